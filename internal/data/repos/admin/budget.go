package admin

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/latticefort/dp-query-service/internal/domain"
	"github.com/latticefort/dp-query-service/internal/pkg/dbctx"
	pkgerrors "github.com/latticefort/dp-query-service/internal/pkg/errors"
	"github.com/latticefort/dp-query-service/internal/platform/logger"
)

type BudgetRepo interface {
	Get(dbc dbctx.Context, userID uuid.UUID, datasetName string) (*domain.BudgetEntry, error)
	Create(dbc dbctx.Context, entry *domain.BudgetEntry) (*domain.BudgetEntry, error)
	// CASDebit applies `delta` to spent_epsilon/spent_delta iff the row's
	// current spent values still equal `expectSpent`. Returns
	// ErrCASConflict when the read-version has moved on.
	CASDebit(dbc dbctx.Context, id uuid.UUID, expectSpent domain.Cost, delta domain.Cost) error
	// CASCredit reverses a prior debit by exactly `delta`, guarded the
	// same way; used for EXTERNAL_LIB compensation.
	CASCredit(dbc dbctx.Context, id uuid.UUID, expectSpent domain.Cost, delta domain.Cost) error
}

type budgetRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBudgetRepo(db *gorm.DB, baseLog *logger.Logger) BudgetRepo {
	return &budgetRepo{db: db, log: baseLog.With("repo", "BudgetRepo")}
}

func (r *budgetRepo) tx(dbc dbctx.Context) *gorm.DB {
	return dbc.DB(r.db).WithContext(dbc.Ctx)
}

func (r *budgetRepo) Get(dbc dbctx.Context, userID uuid.UUID, datasetName string) (*domain.BudgetEntry, error) {
	var e domain.BudgetEntry
	err := r.tx(dbc).Where("user_id = ? AND dataset_name = ?", userID, datasetName).First(&e).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (r *budgetRepo) Create(dbc dbctx.Context, entry *domain.BudgetEntry) (*domain.BudgetEntry, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if err := r.tx(dbc).Create(entry).Error; err != nil {
		return nil, err
	}
	return entry, nil
}

// CASDebit is the atomic-debit primitive behind admission step 5. The
// WHERE clause pins both spent columns to the values the caller read
// moments earlier; if a concurrent admission has already moved them,
// RowsAffected is 0 and the caller retries from the budget pre-check.
func (r *budgetRepo) CASDebit(dbc dbctx.Context, id uuid.UUID, expectSpent domain.Cost, delta domain.Cost) error {
	res := r.tx(dbc).Model(&domain.BudgetEntry{}).
		Where("id = ? AND spent_epsilon = ? AND spent_delta = ?", id, expectSpent.Epsilon, expectSpent.Delta).
		Updates(map[string]interface{}{
			"spent_epsilon": expectSpent.Epsilon + delta.Epsilon,
			"spent_delta":   expectSpent.Delta + delta.Delta,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.ErrCASConflict
	}
	return nil
}

// CASCredit restores exactly `delta` from a prior successful debit,
// pinned the same way so a racing debit between execute and compensate
// is detected rather than silently overwritten.
func (r *budgetRepo) CASCredit(dbc dbctx.Context, id uuid.UUID, expectSpent domain.Cost, delta domain.Cost) error {
	res := r.tx(dbc).Model(&domain.BudgetEntry{}).
		Where("id = ? AND spent_epsilon = ? AND spent_delta = ?", id, expectSpent.Epsilon, expectSpent.Delta).
		Updates(map[string]interface{}{
			"spent_epsilon": expectSpent.Epsilon - delta.Epsilon,
			"spent_delta":   expectSpent.Delta - delta.Delta,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.ErrCASConflict
	}
	return nil
}
