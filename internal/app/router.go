package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/abdialidrus/scm-mining/internal/ledger"
	"github.com/abdialidrus/scm-mining/internal/locations"
	"github.com/abdialidrus/scm-mining/internal/observability"
	"github.com/abdialidrus/scm-mining/internal/picking"
	"github.com/abdialidrus/scm-mining/internal/putaway"
	"github.com/abdialidrus/scm-mining/internal/rbac"
	"github.com/abdialidrus/scm-mining/internal/receiving"
	"github.com/abdialidrus/scm-mining/internal/serials"
	"github.com/abdialidrus/scm-mining/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	RBACMiddleware     rbac.Middleware
	Metrics            *observability.Metrics
	Idempotency        IdempotencyKeys
	ReceivingHandler   *receiving.Handler
	PutAwayHandler     *putaway.Handler
	PickingHandler     *picking.Handler
	StockHandler       *ledger.Handler
	SerialsHandler     *serials.Handler
	LocationsHandler   *locations.Handler
	PermissionsHandler *rbac.PermissionsHandler
	JobHandler         *jobs.Handler
}

// NewRouter constructs the chi.Router with the API defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:      params.Logger,
		Config:      params.Config,
		RBAC:        params.RBACMiddleware,
		Metrics:     params.Metrics,
		Idempotency: params.Idempotency,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.ReceivingHandler != nil {
		params.ReceivingHandler.MountRoutes(r)
	}
	if params.PutAwayHandler != nil {
		params.PutAwayHandler.MountRoutes(r)
	}
	if params.PickingHandler != nil {
		params.PickingHandler.MountRoutes(r)
	}
	if params.StockHandler != nil {
		params.StockHandler.MountRoutes(r)
	}
	if params.SerialsHandler != nil {
		params.SerialsHandler.MountRoutes(r)
	}
	if params.LocationsHandler != nil {
		params.LocationsHandler.MountRoutes(r)
	}
	if params.JobHandler != nil {
		params.JobHandler.MountRoutes(r)
	}
	if params.PermissionsHandler != nil {
		r.Route("/permissions", params.PermissionsHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	return r
}
