package app

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/stockops/internal/audit"
	"github.com/odyssey-erp/stockops/internal/dashboard"
	"github.com/odyssey-erp/stockops/internal/documents"
	"github.com/odyssey-erp/stockops/internal/identity"
	"github.com/odyssey-erp/stockops/internal/inventory"
	"github.com/odyssey-erp/stockops/internal/masterdata"
	"github.com/odyssey-erp/stockops/internal/observability"
	"github.com/odyssey-erp/stockops/internal/platform/cache"
	"github.com/odyssey-erp/stockops/internal/platform/db"
	"github.com/odyssey-erp/stockops/internal/refs"
	"github.com/odyssey-erp/stockops/internal/shared"
	"github.com/odyssey-erp/stockops/jobs"
)

// Deps are the process-wide resources owned by main.
type Deps struct {
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Logger  *slog.Logger
	Metrics *observability.Metrics
	// Jobs is optional; without it postings do not enqueue WAITING rechecks.
	Jobs *jobs.Client
}

// Services is the assembled domain layer shared by the API and the worker.
type Services struct {
	MasterData *masterdata.Service
	Inventory  *inventory.Service
	Documents  *documents.Service
	Dashboard  *dashboard.Service
	Audit      *audit.Service
}

// NewServices wires repositories and services over one pool.
func NewServices(cfg *Config, deps Deps) (*Services, error) {
	if cfg == nil || deps.Pool == nil {
		return nil, errors.New("app: config and pool are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retry := db.RetryPolicy{MaxAttempts: cfg.ValidateMaxRetries, Backoff: cfg.ValidateRetryBackoff}
	auditLogger := shared.NewAuditLogger(deps.Pool)

	master := masterdata.NewService(masterdata.NewRepository(deps.Pool))

	dashboardCache := cache.NewVersioned(deps.Redis, "stockops:dashboard", cfg.DashboardCacheTTL)
	dash := dashboard.NewService(dashboard.NewRepository(deps.Pool), dashboardCache, logger.With(slog.String("module", "dashboard")))

	hooks := inventory.Hooks{dash.Invalidate()}
	if deps.Jobs != nil {
		hooks = append(hooks, deps.Jobs.RecheckHook())
	}
	ledgerCfg := inventory.ServiceConfig{
		AllowNegativeStock: cfg.AllowNegativeStock,
		Retry:              retry,
		Hooks:              hooks,
		Logger:             logger.With(slog.String("module", "inventory")),
	}
	docCfg := documents.Config{
		Idempotency:      shared.NewIdempotencyStore(deps.Pool),
		Audit:            auditLogger,
		Changes:          dash,
		Retry:            retry,
		DefaultWarehouse: cfg.DefaultWarehouseCode,
		Logger:           logger.With(slog.String("module", "documents")),
	}
	if deps.Metrics != nil {
		ledgerCfg.Observer = deps.Metrics
		docCfg.Observer = deps.Metrics
	}
	if cfg.RefCounter == CounterRedis {
		if deps.Redis == nil {
			return nil, errors.New("app: REF_COUNTER=redis needs a redis client")
		}
		docCfg.Counter = refs.NewRedisCounter(deps.Redis, "stockops:refs")
	}

	ledger := inventory.NewService(inventory.NewRepository(deps.Pool), auditLogger, ledgerCfg)
	docs := documents.NewService(documents.NewRepository(deps.Pool), master, ledger, docCfg)

	return &Services{
		MasterData: master,
		Inventory:  ledger,
		Documents:  docs,
		Dashboard:  dash,
		Audit:      audit.NewService(audit.NewRepository(deps.Pool)),
	}, nil
}

// Handler builds the HTTP API over s. inspector may be nil.
func (s *Services) Handler(cfg *Config, deps Deps, inspector *asynq.Inspector) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var queue jobs.QueueInspector
	if inspector != nil {
		queue = inspector
	}
	return NewRouter(RouterParams{
		Logger:            logger,
		Config:            cfg,
		Verifier:          identity.NewVerifier(cfg.IdentityJWTSecret, cfg.IdentityJWTIssuer),
		Database:          deps.Pool,
		DocumentsHandler:  documents.NewHandler(logger, s.Documents),
		InventoryHandler:  inventory.NewHandler(logger, s.Inventory),
		MasterDataHandler: masterdata.NewHandler(logger, s.MasterData),
		DashboardHandler:  dashboard.NewHandler(logger, s.Dashboard),
		AuditHandler:      audit.NewHandler(logger, s.Audit),
		JobHandler:        jobs.NewHandler(queue, logger),
		Metrics:           deps.Metrics,
	})
}
