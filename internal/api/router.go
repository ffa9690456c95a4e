package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/23blocks-OS/ai-maestro/internal/api/middleware"
	"github.com/23blocks-OS/ai-maestro/internal/handlers"
	"github.com/23blocks-OS/ai-maestro/internal/hosts"
	"github.com/23blocks-OS/ai-maestro/internal/push"
	"github.com/23blocks-OS/ai-maestro/internal/resolve"
	"github.com/23blocks-OS/ai-maestro/internal/routing"
	"github.com/23blocks-OS/ai-maestro/internal/store"
)

// Deps carries everything the router wires into handlers and middleware.
// Redis and Hub may be nil.
type Deps struct {
	Logger    zerolog.Logger
	Agents    store.AgentStore
	Mailbox   store.MailboxStore
	Redis     *store.RedisStore
	Engine    *routing.Engine
	Resolver  *resolve.Resolver
	Hosts     *hosts.Directory
	Hub       *push.Hub
	Whitelist []string
}

// NewRouter creates and configures the HTTP router.
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(64 * 1024))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(d.Logger))
	r.Use(chimw.Recoverer)

	// Rate limiting; without Redis the limiter passes everything through
	var redisClient *redis.Client
	if d.Redis != nil && d.Redis.Available() {
		redisClient = d.Redis.Client()
	}
	limiter := middleware.NewRateLimiter(redisClient, d.Logger, middleware.RateLimiterConfig{
		Whitelist: d.Whitelist,
	})
	r.Use(limiter.Middleware)

	// CORS - allow all origins (agents call from anywhere)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-AMP-Agent", "X-AMP-Pickup-Key", "X-AMP-Signature", "X-AMP-Envelope-Id", "X-Forwarded-From"},
		ExposedHeaders:   []string{"Link", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(d.Agents, d.Mailbox, d.Redis, d.Engine, d.Resolver, d.Hosts, d.Hub, d.Logger)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", h.Root)
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		// Mesh ingress and local sends
		r.Post("/route", h.Route)
		r.Post("/messages", h.SendMessage)

		// Agent directory
		r.Post("/agents", h.RegisterAgent)
		r.Get("/agents", h.ListAgentsHandler)
		r.Get("/agents/{id}", h.GetAgent)
		r.Get("/resolve/{identifier}", h.ResolveAddress)

		// Mailboxes
		r.Get("/agents/{id}/messages", h.ListMessages)
		r.Get("/agents/{id}/messages/{messageID}", h.GetMessage)
		r.Post("/agents/{id}/messages/{messageID}/read", h.MarkMessageRead)
		r.Post("/agents/{id}/messages/{messageID}/archive", h.ArchiveMessage)
		r.Post("/agents/{id}/messages/{messageID}/forward", h.ForwardMessage)
		r.Delete("/agents/{id}/messages/{messageID}", h.DeleteMessage)

		// Live push
		r.Get("/agents/{id}/stream", h.StreamMessages)

		// Relay pickup for external agents
		r.Get("/relay/{id}/messages", h.RelayPickup)
		r.Get("/relay/{id}/pending", h.RelayPending)

		// Host directory
		r.Get("/hosts", h.ListHosts)
		r.Post("/hosts/reload", h.ReloadHosts)
	})

	return r
}
