package api

import (
	"net/http"

	"jobsession/internal/health"
	"jobsession/internal/observability"
	"jobsession/internal/session"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Session       *session.Session
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	APIKey        string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Session, cfg.HealthChecker)

	mux := http.NewServeMux()

	// Health check endpoints (liveness/readiness probes) - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	// Session endpoints - auth required
	auth := AuthMiddleware(cfg.APIKey)
	routes := []struct {
		pattern string
		handler http.HandlerFunc
	}{
		{"GET /v1/session", handler.GetSession},
		{"GET /v1/attributes", handler.GetAttributes},

		{"POST /v1/templates", handler.CreateTemplate},
		{"GET /v1/templates/{templateId}", handler.GetTemplate},
		{"DELETE /v1/templates/{templateId}", handler.DeleteTemplate},
		{"PUT /v1/templates/{templateId}/attributes/{name}", handler.PutAttribute},
		{"GET /v1/templates/{templateId}/attributes/{name}", handler.GetAttribute},

		{"POST /v1/jobs", handler.RunJob},
		{"POST /v1/jobs/bulk", handler.RunBulkJobs},
		{"POST /v1/jobs/synchronize", handler.Synchronize},
		{"GET /v1/jobs", handler.ListJobs},
		{"GET /v1/jobs/{jobId}", handler.GetJob},
		{"POST /v1/jobs/{jobId}/wait", handler.WaitJob},
		{"POST /v1/jobs/{jobId}/control", handler.ControlJob},
		{"POST /v1/control", handler.ControlAll},
	}
	for _, route := range routes {
		mux.Handle(route.pattern, auth(route.handler))
	}

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
