package admin

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/latticefort/dp-query-service/internal/domain"
	"github.com/latticefort/dp-query-service/internal/pkg/dbctx"
	"github.com/latticefort/dp-query-service/internal/platform/logger"
)

type ArchiveRepo interface {
	Append(dbc dbctx.Context, a *domain.Archive) (*domain.Archive, error)
	ListByUser(dbc dbctx.Context, userName string, datasetName string) ([]*domain.Archive, error)
}

type archiveRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewArchiveRepo(db *gorm.DB, baseLog *logger.Logger) ArchiveRepo {
	return &archiveRepo{db: db, log: baseLog.With("repo", "ArchiveRepo")}
}

func (r *archiveRepo) tx(dbc dbctx.Context) *gorm.DB {
	return dbc.DB(r.db).WithContext(dbc.Ctx)
}

func (r *archiveRepo) Append(dbc dbctx.Context, a *domain.Archive) (*domain.Archive, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if err := r.tx(dbc).Create(a).Error; err != nil {
		return nil, err
	}
	return a, nil
}

func (r *archiveRepo) ListByUser(dbc dbctx.Context, userName string, datasetName string) ([]*domain.Archive, error) {
	q := r.tx(dbc).Where("user_name = ?", userName).Order("created_at ASC")
	if datasetName != "" {
		q = q.Where("dataset_name = ?", datasetName)
	}
	var out []*domain.Archive
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
