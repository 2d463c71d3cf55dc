package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-emr/meridian-emr/internal/audit"
	"github.com/meridian-emr/meridian-emr/internal/auth"
	"github.com/meridian-emr/meridian-emr/internal/authz"
	"github.com/meridian-emr/meridian-emr/internal/grants"
	"github.com/meridian-emr/meridian-emr/internal/observability"
	"github.com/meridian-emr/meridian-emr/internal/patients"
	"github.com/meridian-emr/meridian-emr/internal/shared"
	"github.com/meridian-emr/meridian-emr/internal/users"
	"github.com/meridian-emr/meridian-emr/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager

	AuthHandler     *auth.Handler
	PatientsHandler *patients.Handler
	UsersHandler    *users.Handler
	GrantsHandler   *grants.Handler
	AuditHandler    *audit.Handler
	CatalogHandler  *authz.CatalogHandler
	JobsHandler     *jobs.Handler

	Metrics *observability.Metrics
}

// NewRouter constructs the chi.Router with Meridian defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)
	if params.PatientsHandler != nil {
		r.Route("/patients", params.PatientsHandler.MountRoutes)
	}
	if params.UsersHandler != nil {
		r.Route("/admin/users", params.UsersHandler.MountRoutes)
	}
	if params.GrantsHandler != nil {
		r.Route("/admin/grants", params.GrantsHandler.MountRoutes)
	}
	if params.CatalogHandler != nil {
		r.Route("/admin/catalog", params.CatalogHandler.MountRoutes)
	}
	if params.AuditHandler != nil {
		r.Route("/audit", params.AuditHandler.MountRoutes)
	}
	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
