package admin

import (
	"github.com/google/uuid"

	"github.com/latticefort/dp-query-service/internal/domain"
	"github.com/latticefort/dp-query-service/internal/pkg/dbctx"
)

// Store is the AS-facing interface ABE depends on. gormStore (backed by
// UserRepo/BudgetRepo/ArchiveRepo) and yamlstore.Store both satisfy it,
// giving a Postgres-backed and a flat-file admin store the same shape
// (admin_database.db_type / ADMIN_DATABASE_DB_TYPE).
type Store interface {
	GetUser(dbc dbctx.Context, name string) (*domain.User, error)
	GetBudget(dbc dbctx.Context, userID uuid.UUID, datasetName string) (*domain.BudgetEntry, error)
	CASDebit(dbc dbctx.Context, budgetID uuid.UUID, expectSpent domain.Cost, delta domain.Cost) error
	CASCredit(dbc dbctx.Context, budgetID uuid.UUID, expectSpent domain.Cost, delta domain.Cost) error
	AppendArchive(dbc dbctx.Context, a *domain.Archive) (*domain.Archive, error)
	ListArchives(dbc dbctx.Context, userName, datasetName string) ([]*domain.Archive, error)
}

// GormStore adapts the split repos into the single Store interface.
type GormStore struct {
	Users    UserRepo
	Budgets  BudgetRepo
	Archives ArchiveRepo
}

func NewGormStore(users UserRepo, budgets BudgetRepo, archives ArchiveRepo) *GormStore {
	return &GormStore{Users: users, Budgets: budgets, Archives: archives}
}

func (s *GormStore) GetUser(dbc dbctx.Context, name string) (*domain.User, error) {
	return s.Users.GetByName(dbc, name)
}

func (s *GormStore) GetBudget(dbc dbctx.Context, userID uuid.UUID, datasetName string) (*domain.BudgetEntry, error) {
	return s.Budgets.Get(dbc, userID, datasetName)
}

func (s *GormStore) CASDebit(dbc dbctx.Context, budgetID uuid.UUID, expectSpent domain.Cost, delta domain.Cost) error {
	return s.Budgets.CASDebit(dbc, budgetID, expectSpent, delta)
}

func (s *GormStore) CASCredit(dbc dbctx.Context, budgetID uuid.UUID, expectSpent domain.Cost, delta domain.Cost) error {
	return s.Budgets.CASCredit(dbc, budgetID, expectSpent, delta)
}

func (s *GormStore) AppendArchive(dbc dbctx.Context, a *domain.Archive) (*domain.Archive, error) {
	return s.Archives.Append(dbc, a)
}

func (s *GormStore) ListArchives(dbc dbctx.Context, userName, datasetName string) ([]*domain.Archive, error) {
	return s.Archives.ListByUser(dbc, userName, datasetName)
}
