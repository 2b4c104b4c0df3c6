// Package main provides the HTTP server and pipeline runner for Syncwell.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jkoenig/syncwell/internal/config"
	"github.com/jkoenig/syncwell/internal/db"
	"github.com/jkoenig/syncwell/internal/llm"
	"github.com/jkoenig/syncwell/internal/metrics"
	"github.com/jkoenig/syncwell/internal/models"
	"github.com/jkoenig/syncwell/internal/provider"
	"github.com/jkoenig/syncwell/internal/server"
	"github.com/jkoenig/syncwell/internal/service"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "path to YAML config file")
	wipeDB := flag.Bool("wipe", false, "wipe all data from database on startup (testing only)")
	flag.Parse()

	// Load configuration
	cfg := config.Load()
	if *configPath != "" {
		if err := cfg.LoadFile(*configPath); err != nil {
			slog.Error("failed to load config file", "error", err, "path", *configPath)
			os.Exit(1)
		}
	}

	// Initialize logging
	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() {
		if err := cleanup(); err != nil {
			slog.Error("failed to close log file", "error", err)
		}
	}()
	slog.SetDefault(logger)

	logger.Info("starting syncwell-server", "port", cfg.ServerPort)

	// Connect to database
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	dbClient, err := db.NewClient(ctx, db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
	}, logger)
	if err != nil {
		cancel()
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	if *wipeDB || os.Getenv("SYNCWELL_WIPE_DB") == "true" {
		if err := dbClient.WipeData(ctx); err != nil {
			cancel()
			logger.Error("failed to wipe database", "error", err)
			os.Exit(1)
		}
	}
	if err := dbClient.InitSchema(ctx, cfg.EmbedDimension); err != nil {
		cancel()
		logger.Error("failed to initialize schema", "error", err)
		os.Exit(1)
	}
	cancel()
	defer func() {
		if err := dbClient.Close(context.Background()); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	// Provider gateways
	adapters := map[models.Provider]provider.Adapter{
		models.ProviderMail:     provider.NewMailAdapter(cfg.MailGatewayURL),
		models.ProviderCalendar: provider.NewCalendarAdapter(cfg.CalendarGatewayURL),
	}

	// Embedding and optional LLM extraction
	embedder, err := llm.NewEmbedder(cfg)
	if err != nil {
		logger.Error("failed to create embedder", "error", err)
		os.Exit(1)
	}

	var extractor service.ContactExtractor
	if cfg.ExtractWithLLM {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		model, err := llm.NewModel(ctx, cfg)
		cancel()
		if err != nil {
			logger.Error("failed to create LLM model", "error", err)
			os.Exit(1)
		}
		extractor = model
	}

	// Assemble services
	collector := metrics.NewCollector()
	orch := service.NewOrchestrator(dbClient, cfg.LockExpiry, cfg.MaxItemAttempts)
	runner := service.NewRunner(dbClient, adapters, embedder, extractor, collector, service.RunnerConfig{
		PageSize:        cfg.PageSize,
		BatchItemCap:    cfg.BatchItemCap,
		MaxItemAttempts: cfg.MaxItemAttempts,
	})
	statusSvc := service.NewStatusService(dbClient)
	accounts := service.NewAccountService(dbClient)

	srv := server.New(cfg.ServerPort, orch, runner, statusSvc, accounts, collector, logger)

	// Cancelled on SIGINT/SIGTERM; stops the runner loop and the server
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Background runner: tick until shutdown so batches progress without
	// anyone calling POST /api/run
	go func() {
		ticker := time.NewTicker(cfg.RunnerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				if ran, err := runner.RunPending(rootCtx); err != nil {
					logger.Error("runner pass failed", "error", err)
				} else if ran > 0 {
					logger.Debug("runner pass", "jobs", ran)
				}
			}
		}
	}()

	if err := srv.Run(rootCtx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
