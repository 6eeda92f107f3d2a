package service

import (
	"context"
	"fmt"
	"time"

	"creditledger/internal/metrics"
	"creditledger/internal/model"
	"creditledger/internal/plan"
	"creditledger/internal/repository"

	"github.com/rs/zerolog"
)

// CheckoutRequest is what a PaymentProvider needs to open a hosted session.
type CheckoutRequest struct {
	UID      string
	PlanID   string
	PriceRef string
	Email    string
}

// PaymentProvider creates hosted checkout sessions. Configured reports whether
// credentials are present at all; Ready reports whether a session can be
// opened with the rest of the settings.
type PaymentProvider interface {
	Configured() bool
	Ready() error
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error)
}

// CheckoutResult carries either a hosted checkout URL or, when the plan was
// applied directly, the resulting balance.
type CheckoutResult struct {
	URL      string
	Applied  bool
	Snapshot *model.CreditsSnapshot
}

// CheckoutService starts plan purchases.
type CheckoutService interface {
	StartCheckout(ctx context.Context, uid, planID string) (CheckoutResult, error)
}

type checkoutService struct {
	repo     repository.AccountRepository
	ledger   LedgerService
	billing  BillingService
	catalog  *plan.Catalog
	provider PaymentProvider
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

// NewCheckoutService creates a new CheckoutService. provider may be nil, in
// which case every purchase is applied directly.
func NewCheckoutService(repo repository.AccountRepository, ledger LedgerService, billing BillingService, catalog *plan.Catalog, provider PaymentProvider, m *metrics.Metrics, logger zerolog.Logger) CheckoutService {
	return &checkoutService{
		repo:     repo,
		ledger:   ledger,
		billing:  billing,
		catalog:  catalog,
		provider: provider,
		metrics:  m,
		logger:   logger.With().Str("service", "CheckoutService").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *checkoutService) StartCheckout(ctx context.Context, uid, planID string) (CheckoutResult, error) {
	p, ok := s.catalog.Lookup(planID)
	if !ok || p.ID == plan.FreePlanID {
		return CheckoutResult{}, fmt.Errorf("checkout plan %q for user %s: %w", planID, uid, ErrInvalidPlan)
	}

	if s.provider == nil || !s.provider.Configured() || !p.Payable() {
		snap, err := s.billing.ApplyPlan(WithPlanSource(ctx, SourceDirect), uid, p.ID)
		if err != nil {
			return CheckoutResult{}, err
		}
		s.metrics.ObserveCheckout("direct")
		return CheckoutResult{Applied: true, Snapshot: &snap}, nil
	}

	if err := s.provider.Ready(); err != nil {
		s.logger.Error().Err(err).Str("uid", uid).Str("plan_id", p.ID).Msg("Payment provider not ready")
		return CheckoutResult{}, fmt.Errorf("checkout plan %q for user %s: %w", p.ID, uid, err)
	}

	now := s.now()
	acct, err := updateAccount(ctx, s.repo, s.ledger, uid, func(a *model.UserAccount) error {
		a.PendingPlanID = p.ID
		a.Touch(now)
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("uid", uid).Str("plan_id", p.ID).Msg("Failed to record pending plan")
		return CheckoutResult{}, fmt.Errorf("record pending plan for user %s: %w", uid, err)
	}

	url, err := s.provider.CreateCheckoutSession(ctx, CheckoutRequest{
		UID:      uid,
		PlanID:   p.ID,
		PriceRef: p.PriceRef,
		Email:    acct.Email,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("uid", uid).Str("plan_id", p.ID).Msg("Failed to create checkout session")
		return CheckoutResult{}, fmt.Errorf("create checkout session for user %s: %w", uid, err)
	}
	s.metrics.ObserveCheckout("hosted")
	s.logger.Info().Str("uid", uid).Str("plan_id", p.ID).Msg("Checkout session created")
	return CheckoutResult{URL: url}, nil
}
