// Package app wires the concrete implementations (Postgres or YAML
// admin store, DCC loaders, DBR, Task Broker, ABE) into a runnable
// service, split into one wireX helper per concern so App itself stays
// a short top-to-bottom assembly list.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/gin-gonic/gin"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"gorm.io/gorm"

	"github.com/latticefort/dp-query-service/internal/config"
	"github.com/latticefort/dp-query-service/internal/data/db"
	"github.com/latticefort/dp-query-service/internal/data/repos"
	"github.com/latticefort/dp-query-service/internal/data/repos/admin"
	"github.com/latticefort/dp-query-service/internal/data/repos/catalog"
	"github.com/latticefort/dp-query-service/internal/data/repos/jobqueue"
	"github.com/latticefort/dp-query-service/internal/domain"
	"github.com/latticefort/dp-query-service/internal/dpbackend"
	httpapi "github.com/latticefort/dp-query-service/internal/http"
	httpH "github.com/latticefort/dp-query-service/internal/http/handlers"
	"github.com/latticefort/dp-query-service/internal/middleware"
	"github.com/latticefort/dp-query-service/internal/pkg/dbctx"
	"github.com/latticefort/dp-query-service/internal/platform/logger"
	"github.com/latticefort/dp-query-service/internal/platform/otelx"
	"github.com/latticefort/dp-query-service/internal/platform/yamlstore"
	"github.com/latticefort/dp-query-service/internal/services/abe"
	"github.com/latticefort/dp-query-service/internal/services/dcc"
	"github.com/latticefort/dp-query-service/internal/services/tshaper"
	"github.com/latticefort/dp-query-service/internal/taskbroker"
	"github.com/latticefort/dp-query-service/internal/taskbroker/backpressure"
	"github.com/latticefort/dp-query-service/internal/taskbroker/localbroker"
	"github.com/latticefort/dp-query-service/internal/taskbroker/temporalbroker"
	"github.com/latticefort/dp-query-service/internal/temporalx"
)

// App bundles every long-lived component this service starts once and
// runs for its lifetime.
type App struct {
	Log            *logger.Logger
	Cfg            config.Config
	Router         *gin.Engine
	Engine         *abe.Engine
	temporalClient temporalsdkclient.Client
	localBroker    *localbroker.Broker
	otelShutdown   func(context.Context) error
	cancel         context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("loading configuration")
	cfg := config.LoadConfig(log)

	otelShutdown := otelx.Init(context.Background(), log, "dp-query-service", logMode)

	as, mcs, userRepo, adminDB, seedFn, err := wireAdminAndCatalog(cfg, log)
	if err != nil {
		return nil, err
	}

	jobsRepo, err := wireJobQueue(cfg, log, adminDB)
	if err != nil {
		return nil, err
	}

	loaders := wireLoaders(log)
	cache := dcc.New(cfg.DCCCapacity, cfg.DCCMaxBytes, mcs, loaders, log)
	registry := dpbackend.Default()

	if cfg.DevelopMode && seedFn != nil {
		seedFn()
	}

	rdb, err := db.NewRedisClient(cfg.Redis, log)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}
	gate := backpressure.New(rdb, "dp-query-service:submit-limit", cfg.SubmitLimit, log)
	shaper := tshaper.New(cfg.Server)

	broker, localBroker, temporalClient, err := wireTaskBroker(cfg, log, jobsRepo, registry, cache)
	if err != nil {
		return nil, err
	}

	engine := abe.New(cfg, as, mcs, cache, registry, broker, gate, log)

	identity := middleware.NewIdentityMiddleware(log, cfg.JWTSecretKey)
	if userRepo != nil {
		identity = identity.WithAPIKeyVerifier(func(ctx context.Context, name, plaintext string) (bool, error) {
			return userRepo.VerifyAPIKey(dbctx.Context{Ctx: ctx}, name, plaintext)
		})
	}
	router := httpapi.NewRouter(httpapi.RouterConfig{
		Identity: identity,
		Shaper:   shaper,
		State:    httpH.NewStateHandler(),
		Catalog:  httpH.NewCatalogHandler(mcs),
		Query:    httpH.NewQueryHandler(engine),
		Budget:   httpH.NewBudgetHandler(engine),
		Archive:  httpH.NewArchiveHandler(engine),
	})

	return &App{
		Log:            log,
		Cfg:            cfg,
		Router:         router,
		Engine:         engine,
		temporalClient: temporalClient,
		localBroker:    localBroker,
		otelShutdown:   otelShutdown,
	}, nil
}

// Start kicks off any background loop the wired components need: the
// local broker's poll loop when running without Temporal.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	if a.localBroker != nil {
		go a.localBroker.Run(ctx)
	}
}

// Run serves HTTP on addr until ctx is canceled (SIGINT/SIGTERM),
// draining in-flight requests for up to 10 seconds before returning.
func (a *App) Run(ctx context.Context, addr string) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	srv := &http.Server{Addr: addr, Handler: a.Router}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.temporalClient != nil {
		a.temporalClient.Close()
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(context.Background())
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}

// wireAdminAndCatalog picks Postgres or YAML for the combined AS+MCS
// role per admin_database.db_type, matching the original
// implementation's ADMIN_STORAGE_KIND duality. It also returns the
// underlying *gorm.DB when one exists (the durable job queue always
// needs Postgres regardless of which store backs AS/MCS) and the raw
// UserRepo when one exists, since API key verification needs the
// concrete repo rather than the narrower admin.Store interface.
func wireAdminAndCatalog(cfg config.Config, log *logger.Logger) (admin.Store, catalog.Store, admin.UserRepo, *gorm.DB, func(), error) {
	switch cfg.AdminDatabase.DBType {
	case config.AdminDBYAML:
		store, err := yamlstore.Load(cfg.AdminDatabase.YAMLPath, log)
		if err != nil {
			return nil, nil, nil, nil, nil, fmt.Errorf("load yaml admin store: %w", err)
		}
		seed := func() {
			store.SeedDemoDataset("demo_user", "demo_dataset", domain.Cost{Epsilon: 10, Delta: 1e-3})
		}
		return store, store, nil, nil, seed, nil
	default:
		pg, err := db.NewPostgresService(log)
		if err != nil {
			return nil, nil, nil, nil, nil, fmt.Errorf("init postgres: %w", err)
		}
		if err := pg.AutoMigrateAll(); err != nil {
			return nil, nil, nil, nil, nil, fmt.Errorf("postgres automigrate: %w", err)
		}
		gdb := pg.DB()
		rp := repos.New(gdb, log)
		asStore := admin.NewGormStore(rp.Users, rp.Budgets, rp.Archives)
		mcsStore := catalog.NewGormStore(rp.Datasets, rp.Metadata)
		return asStore, mcsStore, rp.Users, gdb, nil, nil
	}
}

// wireJobQueue reuses the admin Postgres connection when one exists;
// yaml admin mode has no gorm.DB of its own, so it stands up a
// dedicated connection purely for the durable job table.
func wireJobQueue(cfg config.Config, log *logger.Logger, adminDB *gorm.DB) (jobqueue.QueryJobRepo, error) {
	gdb := adminDB
	if gdb == nil {
		pg, err := db.NewPostgresService(log)
		if err != nil {
			return nil, fmt.Errorf("init postgres for job queue: %w", err)
		}
		if err := pg.AutoMigrateAll(); err != nil {
			return nil, fmt.Errorf("postgres automigrate for job queue: %w", err)
		}
		gdb = pg.DB()
	}
	return jobqueue.NewQueryJobRepo(gdb, log), nil
}

func wireLoaders(log *logger.Logger) map[string]dcc.Loader {
	loaders := map[string]dcc.Loader{
		string(domain.AccessPath):     dcc.PathLoader{},
		string(domain.AccessInMemory): dcc.InMemoryLoader{},
	}
	gcsClient, err := storage.NewClient(context.Background())
	if err != nil {
		log.Warn("gcs client unavailable, AccessS3 datasets will fail to load", "error", err.Error())
	} else {
		loaders[string(domain.AccessS3)] = dcc.GCSLoader{Client: gcsClient}
	}
	return loaders
}

// wireTaskBroker builds either the Temporal-backed durable broker
// (plus a worker process running in the same binary) or the
// in-process local broker, per task_broker.kind.
func wireTaskBroker(cfg config.Config, log *logger.Logger, jobsRepo jobqueue.QueryJobRepo, registry *dpbackend.Registry, cache *dcc.Cache) (taskbroker.Broker, *localbroker.Broker, temporalsdkclient.Client, error) {
	if cfg.TaskBroker.Kind == config.TaskBrokerTemporal {
		tcfg := temporalx.LoadConfig(log)
		client, err := temporalx.NewClient(tcfg, log)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init temporal client: %w", err)
		}
		if client != nil {
			w := worker.New(client, tcfg.TaskQueue, worker.Options{})
			activities := &temporalx.Activities{Registry: registry, Cache: cache}
			w.RegisterWorkflow(temporalx.Workflow)
			w.RegisterActivityWithOptions(activities.ExecuteQueryActivity, activity.RegisterOptions{Name: temporalx.ActivityName})
			go func() {
				if err := w.Run(worker.InterruptCh()); err != nil {
					log.Error("temporal worker stopped", "error", err.Error())
				}
			}()
			return temporalbroker.New(client, tcfg.TaskQueue, jobsRepo, log), nil, client, nil
		}
		log.Warn("temporal broker requested but disabled, falling back to local broker")
	}
	lb := localbroker.New(jobsRepo, registry, cache, cfg.TaskBroker.Workers, log)
	return lb, lb, nil, nil
}

// WorkerApp is the standalone Temporal worker process: it shares the
// DBR and DCC wiring with the HTTP-facing App but runs no router and
// has no local broker fallback, since a deployment only stands this
// binary up once it has committed to task_broker.kind=temporal.
type WorkerApp struct {
	Log            *logger.Logger
	Cfg            config.Config
	temporalClient temporalsdkclient.Client
	worker         worker.Worker
}

func NewWorker() (*WorkerApp, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg := config.LoadConfig(log)

	_, mcs, _, _, _, err := wireAdminAndCatalog(cfg, log)
	if err != nil {
		return nil, err
	}

	loaders := wireLoaders(log)
	cache := dcc.New(cfg.DCCCapacity, cfg.DCCMaxBytes, mcs, loaders, log)
	registry := dpbackend.Default()

	tcfg := temporalx.LoadConfig(log)
	client, err := temporalx.NewClient(tcfg, log)
	if err != nil {
		return nil, fmt.Errorf("init temporal client: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("TEMPORAL_ADDRESS must be set to run the worker binary")
	}

	w := worker.New(client, tcfg.TaskQueue, worker.Options{})
	activities := &temporalx.Activities{Registry: registry, Cache: cache}
	w.RegisterWorkflow(temporalx.Workflow)
	w.RegisterActivityWithOptions(activities.ExecuteQueryActivity, activity.RegisterOptions{Name: temporalx.ActivityName})

	return &WorkerApp{Log: log, Cfg: cfg, temporalClient: client, worker: w}, nil
}

func (w *WorkerApp) Run() error {
	return w.worker.Run(worker.InterruptCh())
}

func (w *WorkerApp) Close() {
	if w == nil {
		return
	}
	if w.temporalClient != nil {
		w.temporalClient.Close()
	}
	if w.Log != nil {
		w.Log.Sync()
	}
}
