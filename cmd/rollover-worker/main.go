package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"libretto/internal/amqp"
	"libretto/internal/config"
	"libretto/internal/core"
	"libretto/internal/date"
	"libretto/internal/rates"
	"libretto/internal/services"
	"libretto/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting rollover-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	// AMQP is best effort: without a broker the worker still rolls budgets,
	// it just emits no events.
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without events", "error", err)
			amqpClient = nil
		} else {
			defer amqpClient.Close()
			logger.Info("AMQP client initialized")
		}
	} else {
		logger.Info("AMQP disabled - no ledger events will be published")
	}

	prefs := core.UserPreferences{
		DefaultCurrency:    cfg.DefaultCurrency,
		DefaultPeriodicity: date.Periodicity(cfg.DefaultPeriodicity),
	}

	clock := services.SystemClock()
	budgetService := services.NewBudgetService(repo, clock, amqpClient)
	ledgerService := services.NewLedgerService(repo, rates.NewTable(cfg.StrictRates), clock, amqpClient, prefs)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Rollover worker configured",
		"rollover_interval", cfg.RolloverInterval,
		"purge_interval", cfg.PurgeInterval,
		"sqlite_db", cfg.SQLiteDBPath)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(cfg.RolloverInterval)
		defer ticker.Stop()

		// Roll on startup so a worker that was down over a period boundary
		// catches up immediately.
		runRollover(ctx, budgetService)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				runRollover(ctx, budgetService)
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.PurgeInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if n, err := ledgerService.PurgeHangingEntries(ctx); err != nil {
					logger.Error("Hanging entry purge failed", "error", err)
				} else if n > 0 {
					logger.Info("Hanging entry purge complete", "purged", n)
				}
			}
		}
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("Worker stopped unexpectedly", "error", err)
		os.Exit(1)
	}
	logger.Info("Rollover-worker shutdown complete")
}

func runRollover(ctx context.Context, budgets *services.BudgetService) {
	rolled, err := budgets.TickAll(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Budget rollover pass failed", "error", err)
		return
	}
	if rolled > 0 {
		slog.InfoContext(ctx, "Budget rollover pass complete", "rolled", rolled)
	}
}
