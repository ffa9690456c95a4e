package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/23blocks-OS/ai-maestro/internal/api"
	"github.com/23blocks-OS/ai-maestro/internal/config"
	"github.com/23blocks-OS/ai-maestro/internal/delivery"
	"github.com/23blocks-OS/ai-maestro/internal/hosts"
	"github.com/23blocks-OS/ai-maestro/internal/push"
	"github.com/23blocks-OS/ai-maestro/internal/resolve"
	"github.com/23blocks-OS/ai-maestro/internal/routing"
	"github.com/23blocks-OS/ai-maestro/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Durable store: Postgres when DATABASE_URL points at one, SQLite
	// otherwise (the URL doubles as the file path for single-node setups).
	var db store.DataStore
	if strings.HasPrefix(cfg.DatabaseURL, "postgres://") || strings.HasPrefix(cfg.DatabaseURL, "postgresql://") {
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		defer pg.Close()
		logger.Info().Msg("connected to PostgreSQL")
		db = pg
	} else {
		path := cfg.DatabaseURL
		if path == "" {
			path = "amp.db"
		}
		sq, err := store.NewSQLiteStore(ctx, path)
		if err != nil {
			logger.Fatal().Err(err).Str("path", path).Msg("sqlite open failed")
		}
		defer sq.Close()
		logger.Info().Str("path", path).Msg("opened SQLite store")
		db = sq
	}

	// Initialize Redis store (relay queue + rate limiting)
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	}

	// Host directory. A broken hosts file is a config error, so die loudly.
	dir := hosts.New(cfg.HostID, cfg.NodeURL, cfg.HostsFile, cfg.HostsEnv)
	if err := dir.Load(); err != nil {
		logger.Fatal().Err(err).Str("file", cfg.HostsFile).Msg("hosts directory load failed")
	}
	logger.Info().
		Str("host", dir.SelfID()).
		Int("known_hosts", len(dir.All())).
		Msg("host directory loaded")

	// Mailboxes written before the agent-id migration were keyed by tmux
	// session name; the compat wrapper folds those rows into reads.
	mailbox := store.NewCompatMailbox(db, func(owner string) string {
		id, err := uuid.Parse(owner)
		if err != nil {
			return ""
		}
		agent, err := db.GetAgentByID(ctx, id)
		if err != nil || agent == nil {
			return ""
		}
		return agent.SessionName
	})

	resolver := resolve.New(db)
	hub := push.NewHub()
	notifier := delivery.NewNotifier(cfg.TmuxBin, logger)
	webhooks := delivery.NewWebhookDispatcher(cfg.WebhookWorkers, logger)
	local := delivery.NewFanout(mailbox, hub, notifier, webhooks, logger)
	remote := delivery.NewHTTPForwarder(dir.SelfID(), logger)

	var relay routing.RelayQueue
	if redisStore != nil {
		relay = redisStore
	}
	var policy routing.GovernancePolicy
	if len(cfg.DenyList) > 0 {
		policy = routing.NewDenylistPolicy(cfg.DenyList)
		logger.Info().Int("entries", len(cfg.DenyList)).Msg("governance denylist active")
	}

	engine := routing.New(resolver, dir, db, mailbox, remote, local, relay, policy, logger)

	// Create router
	router := api.NewRouter(api.Deps{
		Logger:    logger,
		Agents:    db,
		Mailbox:   mailbox,
		Redis:     redisStore,
		Engine:    engine,
		Resolver:  resolver,
		Hosts:     dir,
		Hub:       hub,
		Whitelist: cfg.RateLimitWhitelist,
	})

	// Create server. No WriteTimeout: SSE streams outlive any fixed write
	// deadline, and body reads are already capped by middleware.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("host", dir.SelfID()).
			Msg("starting AI-Maestro node")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	// Let queued webhook retries drain before the process exits.
	webhooks.Close()

	logger.Info().Msg("server stopped")
}
