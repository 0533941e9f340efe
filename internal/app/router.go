package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/stockops/internal/audit"
	"github.com/odyssey-erp/stockops/internal/dashboard"
	"github.com/odyssey-erp/stockops/internal/documents"
	"github.com/odyssey-erp/stockops/internal/identity"
	"github.com/odyssey-erp/stockops/internal/inventory"
	"github.com/odyssey-erp/stockops/internal/masterdata"
	"github.com/odyssey-erp/stockops/internal/observability"
	"github.com/odyssey-erp/stockops/jobs"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	Verifier          *identity.Verifier
	Database          Pinger
	DocumentsHandler  *documents.Handler
	InventoryHandler  *inventory.Handler
	MasterDataHandler *masterdata.Handler
	DashboardHandler  *dashboard.Handler
	AuditHandler      *audit.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with the service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:   params.Logger,
		Config:   params.Config,
		Verifier: params.Verifier,
		Metrics:  params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if params.Database != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.Database.Ping(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.DocumentsHandler != nil {
		r.Route("/documents", params.DocumentsHandler.MountDocuments)
		r.Route("/document-lines", params.DocumentsHandler.MountLines)
	}
	if params.InventoryHandler != nil {
		r.Route("/ledger", params.InventoryHandler.MountLedger)
		r.Route("/stock", params.InventoryHandler.MountStock)
	}
	if params.MasterDataHandler != nil {
		params.MasterDataHandler.MountRoutes(r)
	}
	if params.DashboardHandler != nil {
		r.Route("/dashboard", params.DashboardHandler.MountRoutes)
	}
	if params.AuditHandler != nil {
		r.Route("/audit", params.AuditHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
