// Package jobqueue persists the Task Broker's durable job rows: the
// at-least-once queue with dedup by ID and visibility-timeout crash
// detection that backs the in-process broker (and mirrors the
// Temporal-backed broker's own record for audit/status queries).
package jobqueue

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/latticefort/dp-query-service/internal/domain"
	"github.com/latticefort/dp-query-service/internal/pkg/dbctx"
	pkgerrors "github.com/latticefort/dp-query-service/internal/pkg/errors"
	"github.com/latticefort/dp-query-service/internal/platform/logger"
)

type QueryJobRepo interface {
	Create(dbc dbctx.Context, job *domain.QueryJobRecord) (*domain.QueryJobRecord, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.QueryJobRecord, error)
	// ClaimNext dequeues the oldest NEW/QUEUED job, or a RUNNING job
	// whose heartbeat is older than staleRunning (crash recovery),
	// atomically transitioning it to RUNNING under SKIP LOCKED.
	ClaimNext(dbc dbctx.Context, staleRunning time.Duration) (*domain.QueryJobRecord, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
	// UpdateFieldsUnlessTerminal guards terminal transitions against
	// double-completion: once a job reaches OK/LIB_FAIL/INTERNAL_FAIL,
	// further updates are rejected.
	UpdateFieldsUnlessTerminal(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) (bool, error)
	CountBacklog(dbc dbctx.Context) (int64, error)
}

type queryJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewQueryJobRepo(db *gorm.DB, baseLog *logger.Logger) QueryJobRepo {
	return &queryJobRepo{db: db, log: baseLog.With("repo", "QueryJobRepo")}
}

func (r *queryJobRepo) tx(dbc dbctx.Context) *gorm.DB { return dbc.DB(r.db).WithContext(dbc.Ctx) }

func (r *queryJobRepo) Create(dbc dbctx.Context, job *domain.QueryJobRecord) (*domain.QueryJobRecord, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = domain.JobNew
	}
	if err := r.tx(dbc).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *queryJobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.QueryJobRecord, error) {
	var job domain.QueryJobRecord
	err := r.tx(dbc).Where("id = ?", id).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

func (r *queryJobRepo) ClaimNext(dbc dbctx.Context, staleRunning time.Duration) (*domain.QueryJobRecord, error) {
	base := dbc.DB(r.db)
	now := time.Now()
	staleCutoff := now.Add(-staleRunning)

	var claimed *domain.QueryJobRecord
	err := base.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var job domain.QueryJobRecord
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
				status IN ?
				OR (status = ? AND heartbeat_at IS NOT NULL AND heartbeat_at < ?)
			`, []domain.JobStatus{domain.JobNew, domain.JobQueued}, domain.JobRunning, staleCutoff).
			Order("submit_ts ASC")
		err := q.First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		uErr := txx.Model(&domain.QueryJobRecord{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":       domain.JobRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *queryJobRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	now := time.Now()
	return r.tx(dbc).Model(&domain.QueryJobRecord{}).
		Where("id = ? AND status = ?", id, domain.JobRunning).
		Updates(map[string]interface{}{"heartbeat_at": now, "updated_at": now}).Error
}

func (r *queryJobRepo) UpdateFieldsUnlessTerminal(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) (bool, error) {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	res := r.tx(dbc).Model(&domain.QueryJobRecord{}).
		Where("id = ? AND status NOT IN ?", id, []domain.JobStatus{domain.JobOK, domain.JobLibFail, domain.JobInternalFail}).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *queryJobRepo) CountBacklog(dbc dbctx.Context) (int64, error) {
	var count int64
	err := r.tx(dbc).Model(&domain.QueryJobRecord{}).
		Where("status IN ?", []domain.JobStatus{domain.JobNew, domain.JobQueued, domain.JobRunning}).
		Count(&count).Error
	return count, err
}
