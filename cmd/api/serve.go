package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"ambassador-ledger/internal/cache"
	"ambassador-ledger/internal/config"
	"ambassador-ledger/internal/handler"
	"ambassador-ledger/internal/middleware"
	"ambassador-ledger/internal/tracing"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveRun(cmd.Context(), config.FromContext(cmd.Context()))
		},
	}
}

func serveRun(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := newApp(ctx, cfg, registry)
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.log

	if _, err := tracing.InitTracing(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Environment: cfg.Tracing.Environment,
	}); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	// Rate limit and idempotency counters live in Redis when configured so
	// they survive restarts. The maintenance flag that gates restore stays
	// in process; the SQLite store means one serving instance per database.
	var store cache.Cache
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.KeyPrefix)
		if err != nil {
			return err
		}
		defer rc.Close()
		store = rc
	} else {
		log.Warn("redis not configured, using in-process counters")
		store = cache.NewInMemoryCache()
	}

	h := handler.NewHandlerWithOptions(a.service, a.transfer, handler.NewHandlerOptions{
		MaxBodySize:     cfg.Security.MaxRequestBodySize,
		MaxSnapshotSize: cfg.Security.MaxSnapshotSize,
		IdempotencyTTL:  cfg.Ledger.IdempotencyTTL,
		Cache:           store,
		Flags:           a.flags,
		Logger:          log,
	})

	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(log))
	r.Use(chimw.Recoverer)
	r.Use(middleware.TracingMiddleware())

	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(store, cfg.RateLimit.Rate, cfg.RateLimit.Window, log)
		r.Use(middleware.RateLimitMiddleware(limiter))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Security.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type", handler.HeaderIdempotencyKey,
			middleware.HeaderActorID, middleware.HeaderActorName, middleware.HeaderActorRole, middleware.HeaderActorCampus,
		},
		ExposedHeaders:   []string{"Content-Disposition", "Retry-After", "X-RateLimit-Remaining"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", handler.Health(map[string]handler.ReadyCheck{"database": a.db.Ping}))
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Mount("/", h.Routes())

	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	tlsEnabled := cfg.Server.TLSCertFile != ""
	log.WithFields(map[string]any{
		"addr":     addr,
		"database": cfg.Database.Path,
		"tls":      tlsEnabled,
	}).Info("starting server")

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tlsEnabled {
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("failed to flush traces")
	}
	return nil
}
