package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"creditledger/internal/api/v1/router"
	"creditledger/internal/config"
	"creditledger/internal/logger"
	"creditledger/internal/metrics"
	"creditledger/internal/plan"
	"creditledger/internal/pubsub"
	"creditledger/internal/repository"
	"creditledger/internal/service"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
)

// @title Credit Ledger API
// @version 1.0
// @description Prepaid credits and plan billing
// @host localhost:8080
// @BasePath /v1
// @Schemes http https

func main() {
	// 1. Load configuration
	bootLogger := logger.New("info")
	if err := godotenv.Load(); err != nil {
		bootLogger.Warn().Msg("Warning: no .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		bootLogger.Fatal().Msgf("Error loading config: %v", err)
	}
	logger := logger.New(cfg.LogLevel)
	logger.Info().Str("environment", cfg.Environment).Str("store_driver", cfg.StoreDriver).Msg("App environment loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Stripe secrets may live in Secret Manager
	if cfg.SecretManagerProject != "" && (cfg.StripeSecretKey == "" || cfg.StripeWebhookSecret == "") {
		sm, err := service.NewSecretManagerService(ctx, cfg.SecretManagerProject, cfg.GCPCredentialsFile)
		if err != nil {
			logger.Fatal().Msgf("Failed to create Secret Manager client: %v", err)
		}
		if err := service.ResolveStripeSecrets(ctx, cfg, sm); err != nil {
			logger.Fatal().Msgf("Failed to load Stripe secrets: %v", err)
		}
		sm.Close()
		logger.Info().Msg("Stripe secrets loaded from Secret Manager")
	}

	// 3. Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	// 4. Plan catalog and store
	catalog, err := loadCatalog(cfg)
	if err != nil {
		logger.Fatal().Msgf("Failed to load plan catalog: %v", err)
	}

	repo, closeStore, err := repository.OpenAccountRepo(ctx, storeOptions(cfg, m), logger)
	if err != nil {
		logger.Fatal().Msgf("Failed to open account store: %v", err)
	}
	defer closeStore()

	// 5. Plan notifications
	var planPublisher pubsub.PlanPublisher = pubsub.NoopPlanPublisher{}
	if cfg.HasPubSub() {
		var opts []option.ClientOption
		if cfg.GCPCredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.GCPCredentialsFile))
		}
		pub, err := pubsub.NewPublisher(ctx, cfg.GCPProjectID, opts...)
		if err != nil {
			logger.Fatal().Msgf("Failed to create Pub/Sub publisher: %v", err)
		}
		defer pub.Close()
		planPublisher = pubsub.NewPlanPublisher(pub, cfg.PubSubPlanTopic)
		logger.Info().Str("topic", cfg.PubSubPlanTopic).Msg("Publishing plan changes to Pub/Sub")
	}

	// 6. Services
	var provider service.PaymentProvider
	if cfg.HasStripe() {
		provider = service.NewStripeProvider(cfg.StripeSecretKey, cfg.PublicAppURL, nil, logger)
	} else {
		logger.Warn().Msg("Stripe not configured; checkout applies plans directly")
	}

	ledgerSvc := service.NewLedgerService(repo, catalog, m, logger)
	billingSvc := service.NewBillingService(repo, ledgerSvc, catalog, planPublisher, m, logger)
	checkoutSvc := service.NewCheckoutService(repo, ledgerSvc, billingSvc, catalog, provider, m, logger)
	webhookSvc := service.NewWebhookService(cfg.StripeWebhookSecret, repo, billingSvc, m, logger)

	authMiddleware, err := router.NewAuthMiddleware(cfg, logger)
	if err != nil {
		logger.Fatal().Msgf("Failed to configure authentication: %v", err)
	}

	// 7. HTTP server
	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: router.New(router.Deps{
			Catalog:          catalog,
			Ledger:           ledgerSvc,
			Checkout:         checkoutSvc,
			Webhooks:         webhookSvc,
			Metrics:          m,
			AuthMiddleware:   authMiddleware,
			StripeConfigured: cfg.HasStripe(),
		}, logger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Msgf("🚀 Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutdown signal received, exiting...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("Server stopped with error")
		return
	}
	logger.Info().Msg("Server shut down gracefully")
}

func loadCatalog(cfg *config.Config) (*plan.Catalog, error) {
	catalog := plan.DefaultCatalog()
	if cfg.PlanCatalogPath != "" {
		var err error
		if catalog, err = plan.LoadCatalog(cfg.PlanCatalogPath); err != nil {
			return nil, err
		}
	}
	return catalog.WithPriceRefs(cfg.PriceRefs())
}

func storeOptions(cfg *config.Config, observer repository.RetryObserver) repository.StoreOptions {
	return repository.StoreOptions{
		Driver:      cfg.StoreDriver,
		DSN:         cfg.DBConnectionString,
		RedisURL:    cfg.RedisURL,
		Development: cfg.IsDevelopment(),
		AutoMigrate: cfg.DBAutoMigrate,
		Tx: repository.TxConfig{
			MaxAttempts: cfg.StoreTxMaxRetries,
			Backoff:     5 * time.Millisecond,
			Observer:    observer,
		},
	}
}
