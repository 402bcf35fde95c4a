// Package repos aggregates the domain-scoped repo constructors behind
// one Repos struct, so callers construct every repo once at startup
// instead of importing each per-domain subpackage individually.
package repos

import (
	"gorm.io/gorm"

	"github.com/latticefort/dp-query-service/internal/data/repos/admin"
	"github.com/latticefort/dp-query-service/internal/data/repos/catalog"
	"github.com/latticefort/dp-query-service/internal/data/repos/jobqueue"
	"github.com/latticefort/dp-query-service/internal/platform/logger"
)

type Repos struct {
	Users     admin.UserRepo
	Budgets   admin.BudgetRepo
	Archives  admin.ArchiveRepo
	Datasets  catalog.DatasetRepo
	Metadata  catalog.MetadataRepo
	QueryJobs jobqueue.QueryJobRepo
}

func New(db *gorm.DB, log *logger.Logger) Repos {
	return Repos{
		Users:     admin.NewUserRepo(db, log),
		Budgets:   admin.NewBudgetRepo(db, log),
		Archives:  admin.NewArchiveRepo(db, log),
		Datasets:  catalog.NewDatasetRepo(db, log),
		Metadata:  catalog.NewMetadataRepo(db, log),
		QueryJobs: jobqueue.NewQueryJobRepo(db, log),
	}
}
