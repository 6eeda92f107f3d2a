package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"creditledger/internal/config"
	"creditledger/internal/logger"
	"creditledger/internal/plan"
	"creditledger/internal/repository"
	"creditledger/internal/service"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

func main() {
	// Parse flags; the schedule flag overrides REFILL_SCHEDULE
	schedule := flag.String("schedule", "", "Cron schedule (UTC) for the refill sweep; defaults to REFILL_SCHEDULE")
	runOnce := flag.Bool("run-once", false, "Refill every account once and exit")
	flag.Parse()

	bootLogger := logger.New("info")
	if err := godotenv.Load(); err != nil {
		bootLogger.Warn().Msg("Warning: no .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		bootLogger.Fatal().Msgf("Error loading config: %v", err)
	}
	logger := logger.New(cfg.LogLevel).With().Str("component", "refiller").Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	catalog := plan.DefaultCatalog()
	if cfg.PlanCatalogPath != "" {
		if catalog, err = plan.LoadCatalog(cfg.PlanCatalogPath); err != nil {
			logger.Fatal().Msgf("Failed to load plan catalog: %v", err)
		}
	}

	repo, closeStore, err := repository.OpenAccountRepo(ctx, repository.StoreOptions{
		Driver:      cfg.StoreDriver,
		DSN:         cfg.DBConnectionString,
		RedisURL:    cfg.RedisURL,
		Development: cfg.IsDevelopment(),
		AutoMigrate: cfg.DBAutoMigrate,
		Tx:          repository.TxConfig{MaxAttempts: cfg.StoreTxMaxRetries, Backoff: 5 * time.Millisecond},
	}, logger)
	if err != nil {
		logger.Fatal().Msgf("Failed to open account store: %v", err)
	}
	defer closeStore()

	ledger := service.NewLedgerService(repo, catalog, nil, logger)

	if *runOnce {
		if err := refill(ctx, ledger, logger); err != nil {
			logger.Error().Err(err).Msg("Refill failed")
		}
		return
	}

	expr := *schedule
	if expr == "" {
		expr = cfg.RefillSchedule
	}
	if err := run(ctx, expr, ledger, logger); err != nil {
		logger.Error().Err(err).Msg("Refiller stopped")
	}
}

// run fires a refill on every tick of expr until ctx is cancelled. A sweep
// still in flight when the next tick arrives makes that tick a no-op.
func run(ctx context.Context, expr string, ledger service.LedgerService, logger zerolog.Logger) error {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(expr, func() {
		if err := refill(ctx, ledger, logger); err != nil {
			logger.Error().Err(err).Msg("Refill failed")
		}
	}); err != nil {
		return err
	}

	logger.Info().Str("schedule", expr).Msg("Refiller started")
	c.Start()
	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received, waiting for running refill")
	<-c.Stop().Done()
	return nil
}

func refill(ctx context.Context, ledger service.LedgerService, logger zerolog.Logger) error {
	start := time.Now()
	n, err := ledger.RefillAll(ctx)
	if err != nil {
		return err
	}
	logger.Info().Int64("accounts", n).Dur("duration", time.Since(start)).Msg("Refill complete")
	return nil
}
