package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/001Space/cartsync/internal/engine"
	"github.com/001Space/cartsync/internal/session"
	"github.com/001Space/cartsync/pkg/health"
	"github.com/001Space/cartsync/pkg/middleware"
)

// NewRouter creates a chi router with all facade routes registered.
func NewRouter(
	eng *engine.Engine,
	sessionMgr *session.Manager,
	healthHandler *health.Handler,
	logger *slog.Logger,
	allowedOrigins []string,
	environment string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("facade"))
	r.Use(middleware.Tracing("facade"))
	r.Use(middleware.RequestLogger(logger))

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = allowedOrigins
	corsCfg.Environment = environment
	r.Use(middleware.CORS(corsCfg))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	cartHandler := NewCartHandler(eng, logger)
	sessionHandler := NewSessionHandler(sessionMgr, eng, logger)
	eventsHandler := NewEventsHandler(eng, logger)

	r.Route("/api/v1/cart", func(r chi.Router) {
		// The SSE stream is registered outside the timeout group: it
		// stays open for the client's lifetime.
		r.Get("/events", eventsHandler.Stream)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(30 * time.Second))
			r.Use(ContentTypeJSON)

			r.Get("/", cartHandler.GetCart)
			r.Delete("/", cartHandler.ClearCart)
			r.Get("/totals", cartHandler.GetTotals)

			r.Post("/items", cartHandler.AddItem)
			r.Put("/items/{itemID}", cartHandler.UpdateItemQuantity)
			r.Delete("/items/{itemID}", cartHandler.RemoveItem)

			r.Post("/checkout", cartHandler.Checkout)
		})
	})

	r.Route("/api/v1/session", func(r chi.Router) {
		r.Use(chimw.Timeout(30 * time.Second))
		r.Use(ContentTypeJSON)

		r.Put("/", sessionHandler.Install)
		r.Delete("/", sessionHandler.Logout)
	})

	return r
}
