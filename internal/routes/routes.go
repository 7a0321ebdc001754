package routes

import (
	"net/http"

	"github.com/AnshRaj112/tagtrack-backend/internal/handlers"
	"github.com/AnshRaj112/tagtrack-backend/internal/metrics"
	"github.com/AnshRaj112/tagtrack-backend/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type Options struct {
	AllowedOrigins []string
	Production     bool
	Metrics        metrics.Recorder
	MetricsHandler http.Handler
	Health         map[string]handlers.Checker
	Logger         *zap.Logger

	// RateLimit guards the API routes; nil disables per-IP limits.
	RateLimit func(http.Handler) http.Handler
}

// NewRouter wires middleware and routes. Health and metrics are not rate
// limited.
func NewRouter(h *handlers.Handler, opts Options) *chi.Mux {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(opts.Logger))
	r.Use(metrics.Middleware(opts.Metrics))
	r.Use(middleware.CORS(opts.AllowedOrigins))
	if opts.Production {
		r.Use(middleware.SecurityHeaders)
	}

	r.Get("/health", handlers.Health(opts.Health))
	if opts.MetricsHandler != nil {
		r.Handle("/metrics", opts.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		if opts.RateLimit != nil {
			r.Use(opts.RateLimit)
		}

		r.Options("/api/locate", h.Preflight)
		r.Post("/api/locate", h.Locate)

		r.Get("/api/devices/{id}/location", h.LatestLocation)
		r.Get("/api/devices/{id}/history", h.History)

		r.Get("/ws/locations", h.LocationStream)
	})

	return r
}
