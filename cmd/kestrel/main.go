// Kestrel - Client onboarding risk and progress engine.
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
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ml"
	"github.com/opensource-finance/kestrel/internal/progress"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/risk"
	"github.com/opensource-finance/kestrel/internal/screening"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Load configuration first; it decides the log level.
	cfg := domain.LoadConfig()

	logLevel := slog.LevelInfo
	if cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

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
		"default_rule_weight", cfg.DefaultRuleWeight,
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

	// Initialize Progress Aggregator
	aggregator := progress.NewAggregator(repo, cacheImpl, cfg.Cache.ProgressTTL)
	slog.Info("progress aggregator initialized", "cache_ttl", cfg.Cache.ProgressTTL)

	// Initialize Screening Engine
	engine, err := screening.NewEngine(100)
	if err != nil {
		slog.Error("failed to initialize screening engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	// Load screening rules from database (no hardcoded defaults - configure
	// via API)
	if err := loadScreeningRulesFromDatabase(ctx, repo, engine); err != nil {
		slog.Error("failed to load screening rules", "error", err)
		os.Exit(1)
	}
	slog.Info("screening engine initialized", "rules_count", engine.RuleCount())

	// Initialize ML client. Without a configured endpoint scoring falls back
	// to the rule-based channel.
	var mlScorer domain.MLScorer
	if client := ml.NewClient(cfg.ML); client != nil {
		mlScorer = client
		slog.Info("ml scoring client initialized", "base_url", cfg.ML.BaseURL)
	} else {
		slog.Info("no ml endpoint configured, scoring is rule-based only")
	}

	// Initialize Risk Scorer
	scorer := risk.NewScorer(repo, mlScorer, engine)

	// Initialize completion watcher
	completionWorker := worker.NewWorker(busImpl, repo, aggregator)
	if err := completionWorker.Start(); err != nil {
		slog.Error("failed to start completion worker", "error", err)
	} else {
		slog.Info("completion worker started")
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, aggregator, scorer, engine, cfg.DefaultRuleWeight, Version)

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

	// Stop the completion worker first
	if err := completionWorker.Stop(); err != nil {
		slog.Error("failed to stop completion worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// loadScreeningRulesFromDatabase loads screening rules from the database into
// the engine. All rules must be configured via POST /screening-rules - no
// hardcoded defaults.
func loadScreeningRulesFromDatabase(ctx context.Context, repo domain.Repository, engine *screening.Engine) error {
	dbRules, err := repo.ListScreeningRules(ctx)
	if err != nil {
		slog.Warn("failed to list screening rules from database", "error", err)
		return nil // Start with empty rules - they can be added via API
	}

	if len(dbRules) > 0 {
		slog.Info("loading screening rules from database", "count", len(dbRules))
		return engine.LoadRules(dbRules)
	}

	slog.Info("no screening rules in database - configure via POST /screening-rules")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🪶 KESTREL                  ║")
	fmt.Println("  ║   Onboarding Risk & Progress Engine       ║")
	fmt.Println("  ║     Every client, every step.             ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /applications                      - Create an application")
	fmt.Println("    GET  /applications                      - Dashboard listing")
	fmt.Println("    GET  /applications/{id}                 - Get application by ID")
	fmt.Println("    PUT  /applications/{id}/steps/{step}    - Save wizard step data")
	fmt.Println("    GET  /applications/{id}/steps/{step}    - Get saved step data")
	fmt.Println("    GET  /applications/{id}/progress        - Completion progress")
	fmt.Println("    GET  /applications/{id}/risk            - Risk score and level")
	fmt.Println("    GET  /steps                             - Wizard step registry")
	fmt.Println("    GET  /screening-rules                   - List screening rules")
	fmt.Println("    POST /screening-rules                   - Create a screening rule")
	fmt.Println("    POST /screening-rules/reload            - Hot-reload rules from database")
	fmt.Println("    GET  /health                            - Health check")
	fmt.Println()
}
