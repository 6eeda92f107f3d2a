package router

import (
	"errors"
	"net/http"

	"creditledger/internal/api/v1/handler"
	"creditledger/internal/config"
	"creditledger/internal/metrics"
	"creditledger/internal/middleware"
	"creditledger/internal/plan"
	"creditledger/internal/service"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// Deps are the wired services the HTTP surface is built from.
type Deps struct {
	Catalog          *plan.Catalog
	Ledger           service.LedgerService
	Checkout         service.CheckoutService
	Webhooks         service.WebhookService
	Metrics          *metrics.Metrics
	AuthMiddleware   func(http.Handler) http.Handler
	StripeConfigured bool
}

func New(d Deps, logger zerolog.Logger) http.Handler {
	logger.Info().Msg("Router initialized")

	validate := validator.New(validator.WithRequiredStructEnabled())

	plansHandler := handler.NewPlansHandler(d.Catalog, d.StripeConfigured, logger)
	creditsHandler := handler.NewCreditsHandler(d.Ledger, validate, logger)
	billingHandler := handler.NewBillingHandler(d.Checkout, d.Webhooks, validate, logger)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/health", handler.Health)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		plansHandler.RegisterRoutes(r)
		creditsHandler.RegisterRoutes(r, d.AuthMiddleware)
		billingHandler.RegisterRoutes(r, d.AuthMiddleware)
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	return middleware.LoggerMiddleware(logger, d.Metrics)(c.Handler(r))
}

// NewAuthMiddleware picks the identity verifier from config: a JWKS endpoint
// first, then a shared secret or PEM key. AUTH_DISABLED trusts X-User-ID and
// must be set explicitly.
func NewAuthMiddleware(cfg *config.Config, logger zerolog.Logger) (func(http.Handler) http.Handler, error) {
	switch {
	case cfg.AuthJWKSURL != "":
		v, err := middleware.NewJWKSVerifier(cfg.AuthJWKSURL, cfg.AuthIssuer, cfg.AuthAudience)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("jwks_url", cfg.AuthJWKSURL).Msg("Verifying identities against JWKS")
		return middleware.AuthMiddleware(v, logger), nil
	case cfg.AuthJWTSecret != "":
		v, err := middleware.NewSecretVerifier(cfg.AuthJWTSecret, cfg.AuthIssuer, cfg.AuthAudience)
		if err != nil {
			return nil, err
		}
		logger.Info().Msg("Verifying identities with configured JWT key")
		return middleware.AuthMiddleware(v, logger), nil
	case cfg.AuthDisabled:
		logger.Warn().Msg("Authentication disabled; trusting X-User-ID header")
		return middleware.DevAuthMiddleware(logger), nil
	default:
		return nil, errors.New("no identity verifier configured: set AUTH_JWKS_URL or AUTH_JWT_SECRET, or AUTH_DISABLED=true for local use")
	}
}
