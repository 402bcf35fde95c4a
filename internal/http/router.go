package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/latticefort/dp-query-service/internal/http/handlers"
	"github.com/latticefort/dp-query-service/internal/middleware"
	"github.com/latticefort/dp-query-service/internal/services/tshaper"
)

type RouterConfig struct {
	Identity *middleware.IdentityMiddleware
	Shaper   *tshaper.Shaper

	State   *httpH.StateHandler
	Catalog *httpH.CatalogHandler
	Query   *httpH.QueryHandler
	Budget  *httpH.BudgetHandler
	Archive *httpH.ArchiveHandler
}

// libraryWireTags is the closed set of route fragments the query
// surface fans out over: smartnoise_sql, opendp, smartnoise_synth,
// diffprivlib.
var libraryWireTags = []string{"smartnoise_sql", "opendp", "smartnoise_synth", "diffprivlib"}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()

	if cfg.State != nil {
		r.GET("/state", cfg.State.State)
	}

	protected := r.Group("/")
	if cfg.Identity != nil {
		protected.Use(cfg.Identity.ResolveCaller())
	}

	if cfg.Catalog != nil {
		protected.GET("/get_dataset_metadata", cfg.Catalog.GetDatasetMetadata)
		protected.GET("/get_dummy_dataset", cfg.Catalog.GetDummyDataset)
	}

	// Every ABE-backed route sits behind the timing shaper, so response
	// time floors uniformly regardless of which admission step produced
	// the response, success or error alike.
	abeBacked := protected.Group("/")
	if cfg.Shaper != nil {
		abeBacked.Use(middleware.TimingShaper(cfg.Shaper))
	}

	if cfg.Query != nil {
		for _, wire := range libraryWireTags {
			abeBacked.POST("/estimate_"+wire+"_cost", cfg.Query.EstimateCost(wire))
			abeBacked.POST("/"+wire+"_query", cfg.Query.Execute(wire))
			abeBacked.POST("/dummy_"+wire+"_query", cfg.Query.ExecuteDummy(wire))
		}
	}

	if cfg.Budget != nil {
		abeBacked.GET("/get_initial_budget", cfg.Budget.Initial)
		abeBacked.GET("/get_total_spent_budget", cfg.Budget.TotalSpent)
		abeBacked.GET("/get_remaining_budget", cfg.Budget.Remaining)
	}

	if cfg.Archive != nil {
		abeBacked.GET("/get_previous_queries", cfg.Archive.List)
	}

	return r
}
