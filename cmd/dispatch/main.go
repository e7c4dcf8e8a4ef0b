package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/quantlab/dispatch/internal/adapter/chatgpt"
	"github.com/quantlab/dispatch/internal/adapter/chromem"
	"github.com/quantlab/dispatch/internal/adapter/claudecode"
	"github.com/quantlab/dispatch/internal/adapter/gemini"
	"github.com/quantlab/dispatch/internal/adapter/httpapi"
	dnats "github.com/quantlab/dispatch/internal/adapter/nats"
	dotel "github.com/quantlab/dispatch/internal/adapter/otel"
	"github.com/quantlab/dispatch/internal/adapter/postgres"
	"github.com/quantlab/dispatch/internal/adapter/quotafile"
	"github.com/quantlab/dispatch/internal/adapter/ristretto"
	"github.com/quantlab/dispatch/internal/config"
	"github.com/quantlab/dispatch/internal/domain/task"
	"github.com/quantlab/dispatch/internal/logger"
	"github.com/quantlab/dispatch/internal/port/events"
	"github.com/quantlab/dispatch/internal/port/memorystore"
	"github.com/quantlab/dispatch/internal/port/quotastore"
	"github.com/quantlab/dispatch/internal/quota"
	"github.com/quantlab/dispatch/internal/resilience"
	"github.com/quantlab/dispatch/internal/router"
	"github.com/quantlab/dispatch/internal/service"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	slog.SetDefault(logger.New(cfg.Logging))

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"max_parallel", cfg.Orchestrator.MaxParallel,
	)

	ctx := context.Background()

	// --- Telemetry ---
	shutdownTelemetry, err := dotel.Setup(ctx, cfg.Telemetry, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	metrics, err := dotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	// PostgreSQL is optional: without a DSN, quota falls back to the JSON
	// file and chain accounting stays in memory.
	var quotaStore quotastore.Store
	var ledger service.ChainLedger
	if cfg.Postgres.DSN != "" {
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		slog.Info("postgres connected, migrations applied")

		store := postgres.NewStore(pool)
		quotaStore = store
		ledger = store
	} else if cfg.Quota.PersistencePath != "" {
		quotaStore, err = quotafile.New(cfg.Quota.PersistencePath)
		if err != nil {
			return fmt.Errorf("quota file: %w", err)
		}
	}

	tracker, err := quota.NewTracker(cfg.Quota.Limits, quotaStore)
	if err != nil {
		return fmt.Errorf("quota tracker: %w", err)
	}

	// NATS is optional: without a URL, lifecycle events are dropped.
	var publisher events.Publisher = events.Nop{}
	if cfg.NATS.URL != "" {
		queue, err := dnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = queue.Close() }()
		publisher = queue
	}

	// Memory store for handoff content, with a ristretto read cache.
	var memory memorystore.Store
	memory, err = chromem.New(cfg.Memory, nil)
	if err != nil {
		return fmt.Errorf("memory store: %w", err)
	}

	readCache, err := ristretto.New(cfg.Cache.MaxBytes)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer readCache.Close()

	// --- Providers ---
	rt := router.New(router.DefaultCostTiers()...)

	chatgpt.Register(cfg.Providers.ChatGPT, resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	geminiQuotaKey := ""
	if tier, ok := rt.TierFor(task.PlatformGemini); ok {
		geminiQuotaKey = tier.QuotaKey
	}
	gemini.Register(cfg.Providers.Gemini, geminiQuotaKey, tracker,
		resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	claudecode.Register(cfg.Providers.ClaudeCode)

	// --- Services ---
	chains := service.NewChainTracker(ledger)
	handoffs := service.NewHandoffService(memory, readCache, chains, publisher)
	orchestrator := service.NewOrchestrator(rt, tracker, chains, publisher, metrics, cfg.Orchestrator)

	// --- HTTP ---
	handlers := httpapi.NewHandlers(orchestrator, handoffs, tracker, cfg.Quota.WarnThresholdPct)

	r := chi.NewRouter()
	r.Use(httpapi.CORS(cfg.Server.CORSOrigin))
	r.Use(httpapi.RequestID)
	r.Use(httpapi.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	httpapi.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      10 * time.Minute, // task execution is synchronous on this surface
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
