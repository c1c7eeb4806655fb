package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-hms/meridian/internal/billing"
	"github.com/meridian-hms/meridian/internal/inventory"
	"github.com/meridian-hms/meridian/internal/medication"
	"github.com/meridian-hms/meridian/internal/observability"
	"github.com/meridian-hms/meridian/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	BillingHandler    *billing.Handler
	InventoryHandler  *inventory.Handler
	MedicationHandler *medication.Handler
	JobHandler        *jobs.Handler
	Pool              *pgxpool.Pool
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with Meridian defaults.
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

	if params.BillingHandler != nil {
		r.Route("/admissions", func(r chi.Router) {
			params.BillingHandler.MountRoutes(r)
		})
	}
	if params.InventoryHandler != nil {
		r.Route("/inventory", func(r chi.Router) {
			params.InventoryHandler.MountRoutes(r)
		})
	}
	if params.MedicationHandler != nil {
		r.Route("/orders", func(r chi.Router) {
			params.MedicationHandler.MountRoutes(r)
		})
	}
	if params.JobHandler != nil {
		r.Route("/jobs", func(r chi.Router) {
			params.JobHandler.MountRoutes(r)
		})
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
