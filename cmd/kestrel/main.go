// Kestrel - Commission validation that deploys in 60 seconds.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/anomaly"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/checks"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rulestore"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Load configuration first so the logger honors KESTREL_LOG_LEVEL
	cfg, err := domain.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	initLogger(cfg.Logging)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	if cfg.Tier == domain.TierPro {
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize per-session policy stores. Every new session starts
	// from the built-in tier defaults and diverges via the API.
	stores := rulestore.NewManager(domain.DefaultPolicies())
	slog.Info("policy stores initialized", "default_tiers", len(domain.DefaultPolicies()))

	// Initialize custom check engine
	checksEngine, err := checks.NewEngine()
	if err != nil {
		slog.Error("failed to initialize check engine", "error", err)
		os.Exit(1)
	}
	defer checksEngine.Close()

	// Load custom checks from database (configure via POST /checks)
	if err := loadChecksFromDatabase(ctx, repo, checksEngine); err != nil {
		slog.Error("failed to load checks", "error", err)
		os.Exit(1)
	}
	slog.Info("check engine initialized", "checks_count", checksEngine.ChecksCount())

	// Initialize anomaly detector
	detector := anomaly.NewDetector(cfg.Anomaly)
	slog.Info("anomaly detector initialized",
		"contamination", cfg.Anomaly.Contamination,
		"trees", cfg.Anomaly.Trees,
	)

	// Initialize batch processor
	processor := pipeline.NewProcessor(checksEngine, detector)
	slog.Info("batch processor initialized")

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || cfg.AsyncWorker {
		asyncWorker = worker.NewWorker(busImpl, repo, cacheImpl, stores, processor)

		// Sessions to process (from environment or wildcard)
		sessionIDs := []string{}
		if envSessions := os.Getenv("KESTREL_SESSIONS"); envSessions != "" {
			for _, s := range strings.Split(envSessions, ",") {
				if s = strings.TrimSpace(s); s != "" {
					sessionIDs = append(sessionIDs, s)
				}
			}
		}

		workerCfg := worker.Config{
			SessionIDs:  sessionIDs,
			WorkerCount: 5,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "session_count", len(sessionIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, stores, checksEngine, detector, processor, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

func initLogger(cfg domain.LoggingConfig) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// loadChecksFromDatabase loads custom checks from the database into the engine.
// Checks are configured via POST /checks - there are no built-in defaults.
func loadChecksFromDatabase(ctx context.Context, repo domain.Repository, engine *checks.Engine) error {
	configs, err := repo.ListCheckConfigs(ctx)
	if err != nil {
		slog.Warn("failed to list checks from database", "error", err)
		return nil // Start with no custom checks - they can be added via API
	}

	if len(configs) > 0 {
		slog.Info("loading checks from database", "count", len(configs))
		return engine.LoadChecks(configs)
	}

	slog.Info("no custom checks in database - configure via POST /checks")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🪶  KESTREL                  ║")
	fmt.Println("  ║     Commission Validation Engine          ║")
	fmt.Println("  ║      Every deal, checked.                 ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /validate            - Validate a single deal")
	fmt.Println("    POST /validate/batch      - Validate a batch synchronously")
	fmt.Println("    POST /anomalies           - Label batch outliers")
	fmt.Println("    POST /batches             - Ingest a batch for async validation")
	fmt.Println("    GET  /batches             - List ingested batches")
	fmt.Println("    GET  /batches/{id}/report - Get a batch validation report")
	fmt.Println("    GET  /policies            - List commission policies")
	fmt.Println("    POST /policies            - Add a policy tier")
	fmt.Println("    DELETE /policies/{tier}   - Remove a policy tier")
	fmt.Println("    GET  /checks              - List custom checks")
	fmt.Println("    POST /checks              - Create a custom check")
	fmt.Println("    POST /checks/reload       - Hot-reload checks from database")
	fmt.Println("    GET  /health              - Health check")
	fmt.Println()
}
