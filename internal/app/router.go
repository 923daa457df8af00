package app

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"duck-sandbox/internal/middleware"
)

// Router builds the HTTP handler: public health, metrics and OpenAPI
// routes, and the authenticated /api tree, rate limited per principal. ctx
// bounds the rate limiter's background sweep.
func (a *App) Router(ctx context.Context) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Observe(a.logger, a.metrics))
	r.Use(middleware.Recoverer(a.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", a.cfg.Auth.APIKeyHeader, middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader, "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", a.metrics.Handler())
	r.Get("/openapi.json", a.Handler.ServeOpenAPI)

	limiter := middleware.NewRateLimiter(ctx, middleware.RateLimitConfig{
		RequestsPerSecond: a.cfg.RateLimitRPS,
		Burst:             a.cfg.RateLimitBurst,
	})
	r.Route("/api", func(r chi.Router) {
		r.Use(a.Auth.Middleware())
		r.Use(limiter.Middleware)
		a.Handler.Mount(r)
	})
	return r
}
