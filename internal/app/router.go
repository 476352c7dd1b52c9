package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/strata-hq/strata/internal/billing"
	"github.com/strata-hq/strata/internal/collections"
	"github.com/strata-hq/strata/internal/documents"
	"github.com/strata-hq/strata/internal/ledger"
	"github.com/strata-hq/strata/internal/observability"
	"github.com/strata-hq/strata/internal/payments"
	"github.com/strata-hq/strata/internal/property"
	"github.com/strata-hq/strata/internal/summary"
	"github.com/strata-hq/strata/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	Pool               *pgxpool.Pool
	PropertyHandler    *property.Handler
	LedgerHandler      *ledger.Handler
	PaymentsHandler    *payments.Handler
	BillingHandler     *billing.Handler
	DocumentsHandler   *documents.Handler
	CollectionsHandler *collections.Handler
	SummaryHandler     *summary.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		if params.PropertyHandler != nil {
			params.PropertyHandler.MountRoutes(api)
		}
		if params.LedgerHandler != nil {
			params.LedgerHandler.MountRoutes(api)
		}
		if params.PaymentsHandler != nil {
			params.PaymentsHandler.MountRoutes(api)
		}
		if params.BillingHandler != nil {
			params.BillingHandler.MountRoutes(api)
		}
		if params.DocumentsHandler != nil {
			params.DocumentsHandler.MountRoutes(api)
		}
		if params.CollectionsHandler != nil {
			params.CollectionsHandler.MountRoutes(api)
		}
		if params.SummaryHandler != nil {
			params.SummaryHandler.MountRoutes(api)
		}
		if params.JobHandler != nil {
			api.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
