package server

import (
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
	// SubmitLimiter throttles uploads and render submissions. Nil disables it.
	SubmitLimiter *rate.Limiter
	// Metrics is served on GET /metrics when set.
	Metrics http.Handler
	// ObserveRequest is called with the method and status of every request.
	ObserveRequest func(method string, code int)
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewSubmitLimiter builds the token bucket used for submissions.
// A non-positive rate disables throttling.
func NewSubmitLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()
	throttle := RateLimitMiddleware(cfg.SubmitLimiter)

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /api/templates", h.Templates)
	mux.Handle("POST /api/uploads", throttle(http.HandlerFunc(h.Upload)))
	mux.Handle("POST /api/jobs", throttle(http.HandlerFunc(h.CreateJob)))
	mux.Handle("POST /api/render", throttle(http.HandlerFunc(h.Render)))
	mux.HandleFunc("GET /api/jobs", h.ListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", h.GetJob)
	mux.HandleFunc("DELETE /api/jobs/{id}", h.DeleteJob)
	mux.HandleFunc("GET /api/download/{id}", h.Download)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	// Apply middleware chain
	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		MetricsMiddleware(cfg.ObserveRequest),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
