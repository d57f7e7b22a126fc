package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	corslib "github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/freshroute/expiry-engine/internal/api/handler"
	"github.com/freshroute/expiry-engine/internal/cache"
	"github.com/freshroute/expiry-engine/internal/config"
)

// Deps are the services the routes delegate to.
type Deps struct {
	Runner        handler.Runner
	Notifications handler.Notifications
	DB            handler.Pinger
	Cache         *cache.Cache
	Logger        *slog.Logger
}

// NewRouter creates and configures the Chi router with all middleware and routes.
func NewRouter(deps Deps, cfg *config.Config) *chi.Mux {
	r := chi.NewRouter()

	// --- Middleware stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(TimingMiddleware)
	if cfg.Debug {
		r.Use(LoggingMiddleware(deps.Logger))
	}
	r.Use(middleware.Compress(5)) // gzip

	// CORS
	c := corslib.New(corslib.Options{
		AllowedOrigins:   cfg.CORSAllowOrigins,
		AllowedMethods:   []string{"GET", "HEAD", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Encoding", "Content-Type", "If-None-Match", "Cache-Control"},
		ExposedHeaders:   []string{"X-Process-Time", "X-Cache", "ETag"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	// Rate limiting
	if cfg.RateLimitEnabled {
		r.Use(RateLimitMiddleware(cfg.RateLimitRequests, cfg.RateLimitWindow))
	}

	// --- Handler dependencies ---
	h := handler.New(deps.Runner, deps.Notifications, deps.DB, deps.Cache, deps.Logger)

	// --- Routes ---

	// Root
	r.Get("/", h.Root)

	// Health checks
	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.HealthCheck)
		r.Get("/db", h.HealthCheckDB)
		r.Get("/cache", h.HealthCheckCache)
	})

	// Swagger UI
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/docs/doc.json"),
	))

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Engine
		r.Post("/engine/run", h.RunEngine)
		r.Get("/engine/last-run", h.GetLastRun)

		// Notifications
		r.Get("/notifications", h.GetInbox)
		r.Get("/notifications/history", h.GetHistory)
		r.Get("/notifications/{id}", h.GetNotification)
		r.Patch("/notifications/{id}", h.PatchNotification)
	})

	return r
}
