package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/scaffold-erp/internal/dunning"
	"github.com/odyssey-erp/scaffold-erp/internal/invoices"
	"github.com/odyssey-erp/scaffold-erp/internal/ledger"
	"github.com/odyssey-erp/scaffold-erp/internal/observability"
	"github.com/odyssey-erp/scaffold-erp/internal/payments"
	"github.com/odyssey-erp/scaffold-erp/internal/settings"
	"github.com/odyssey-erp/scaffold-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	SettingsHandler *settings.Handler
	InvoiceHandler  *invoices.Handler
	PaymentsHandler *payments.Handler
	DunningHandler  *dunning.Handler
	LedgerHandler   *ledger.Handler
	JobHandler      *jobs.Handler
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router with the API defaults.
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

	if params.SettingsHandler != nil {
		r.Route("/settings", params.SettingsHandler.MountRoutes)
	}
	// Invoice reads and the status endpoint share the /invoices prefix.
	if params.InvoiceHandler != nil || params.PaymentsHandler != nil {
		r.Route("/invoices", func(r chi.Router) {
			if params.InvoiceHandler != nil {
				params.InvoiceHandler.MountRoutes(r)
			}
			if params.PaymentsHandler != nil {
				params.PaymentsHandler.MountRoutes(r)
			}
		})
	}
	if params.DunningHandler != nil {
		r.Route("/dunning", params.DunningHandler.MountRoutes)
	}
	if params.LedgerHandler != nil {
		r.Route("/ledger", params.LedgerHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
