package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/voicerelay/internal/api/middleware"
	"github.com/eldtechnologies/voicerelay/internal/handlers"
	"github.com/eldtechnologies/voicerelay/internal/store"
)

// NewRouter creates and configures the HTTP router. redisStore may be
// nil in development; rate limiting is skipped without it.
func NewRouter(logger zerolog.Logger, dataStore store.Store, redisStore *store.RedisStore, rateLimitWhitelist []string) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(2 << 20)) // 2 MiB: 1 MiB blob plus encoding overhead
	r.Use(middleware.RequireJSON)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	if redisStore != nil {
		limiter := middleware.NewRateLimiter(redisStore.Client(), logger, rateLimitWhitelist)
		r.Use(limiter.Middleware)
	}

	// CORS - allow all origins (agents call from anywhere)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(dataStore, redisStore, logger)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes
	r.Get("/", h.Root)
	r.Get("/health", h.Health)

	// Authenticated routes (bearer credential required)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireBearer)

		r.Post("/auth/register-public-key", h.RegisterPublicKey)
		r.Post("/auth/get-public-key", h.GetPublicKey)
		r.Post("/agent/ask", h.Ask)
		r.Get("/app/messages", h.FetchMessages)
		r.Post("/app/messages/{id}/ack", h.AckMessage)
	})

	return r
}
