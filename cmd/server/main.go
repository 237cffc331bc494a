package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"expensedesk/backend/internal/cache"
	"expensedesk/backend/internal/config"
	"expensedesk/backend/internal/events"
	"expensedesk/backend/internal/httpapi"
	"expensedesk/backend/internal/logging"
	"expensedesk/backend/internal/service"
	"expensedesk/backend/internal/store"
	"expensedesk/backend/internal/store/memory"
	pgstore "expensedesk/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	logging.Setup(os.Stderr, cfg.LogLevel, cfg.LogColor)

	if err := validateSecurityConfig(cfg); err != nil {
		fatal("invalid security configuration", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		fatal("invalid timezone", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 3)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		slog.Info("repository ready", "backend", "postgres")
	} else {
		repo = memory.NewSeeded()
		slog.Info("repository ready", "backend", "memory")
	}

	reportCache := cache.ReportCache(cache.NoopReportCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisReportCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			slog.Warn("redis unavailable, using noop report cache", "addr", cfg.RedisAddr, "error", err)
		} else {
			reportCache = redisCache
			closers = append(closers, redisCache.Close)
			slog.Info("report cache ready", "backend", "redis", "ttl", cfg.ReportCacheTTL())
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	publisher := events.Publisher(events.NoopPublisher{})
	if cfg.AMQPURL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.NotificationQueue)
		if err != nil {
			slog.Warn("amqp unavailable, expense events stay in-process", "error", err)
		} else {
			publisher = amqpPublisher
			closers = append(closers, amqpPublisher.Close)
			slog.Info("event publisher ready", "backend", "amqp", "queue", cfg.NotificationQueue)
		}
	}
	publisher = events.NewCountingPublisher(publisher, registry)

	svc := service.New(repo, service.Options{
		Cache:     reportCache,
		CacheTTL:  cfg.ReportCacheTTL(),
		Publisher: publisher,
		Location:  loc,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, registry)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("expense backend listening", "addr", cfg.Address(), "timezone", loc.String())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("server error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			slog.Error("close error", "error", err)
		}
	}

	slog.Info("server stopped")
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if strings.Count(cfg.AuthSecret, cfg.AuthSecret[:1]) == len(cfg.AuthSecret) {
		return fmt.Errorf("AUTH_SECRET must not repeat a single character")
	}
	if strings.TrimSpace(cfg.AllowedOrigin) == "*" {
		return fmt.Errorf("ALLOWED_ORIGIN must name an origin, not a wildcard")
	}
	return nil
}
