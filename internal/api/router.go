package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sungwon/newsletter/internal/auth"
)

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Publisher Publisher
	Issues    IssueReader
	Pending   PendingCounter
	JWT       *auth.JWTService
	Audit     *auth.AuditLogger
	// Ready is checked by /readyz, keyed by dependency name.
	Ready map[string]Pinger
}

// NewRouter creates a chi.Mux with all routes and middleware configured.
func NewRouter(deps Deps, log zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(CorrelationIDMiddleware)
	r.Use(LoggingMiddleware(log))
	r.Use(RecoverMiddleware(log))
	r.Use(MetricsMiddleware)

	// Unauthenticated
	r.Get("/healthz", HealthzHandler())
	r.Get("/readyz", ReadyzHandler(deps.Ready))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/admin/newsletters", func(r chi.Router) {
		r.Use(auth.JWTAuth(deps.JWT, deps.Audit))

		r.With(auth.RequireRole(deps.Audit, auth.RoleAdmin, auth.RolePublisher)).
			Post("/", PublishNewsletterHandler(deps.Publisher, deps.Audit))
		r.With(auth.RequireRole(deps.Audit, auth.RoleAdmin, auth.RolePublisher, auth.RoleViewer)).
			Get("/{id}", GetNewsletterHandler(deps.Issues, deps.Pending))
	})

	return r
}
