package service

import (
	"context"
	"fmt"
	"time"

	"creditledger/internal/metrics"
	"creditledger/internal/model"
	"creditledger/internal/plan"
	"creditledger/internal/pubsub"
	"creditledger/internal/repository"

	"github.com/rs/zerolog"
)

type planSourceKey struct{}

// Plan sources recorded on metrics and plan events.
const (
	SourceDirect  = "direct"
	SourceWebhook = "webhook"
)

// WithPlanSource tags ctx with what triggered a plan transition.
func WithPlanSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, planSourceKey{}, source)
}

func planSource(ctx context.Context) string {
	if s, ok := ctx.Value(planSourceKey{}).(string); ok && s != "" {
		return s
	}
	return SourceDirect
}

// BillingService applies plan transitions to accounts.
type BillingService interface {
	// ApplyPlan moves uid onto planID, resetting credits to the plan's
	// allotment and clearing any pending plan. Unknown plans resolve to free.
	ApplyPlan(ctx context.Context, uid, planID string) (model.CreditsSnapshot, error)
}

type billingService struct {
	repo      repository.AccountRepository
	ledger    LedgerService
	catalog   *plan.Catalog
	publisher pubsub.PlanPublisher
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time
}

// NewBillingService creates a new BillingService with a scoped logger.
func NewBillingService(repo repository.AccountRepository, ledger LedgerService, catalog *plan.Catalog, publisher pubsub.PlanPublisher, m *metrics.Metrics, logger zerolog.Logger) BillingService {
	if publisher == nil {
		publisher = pubsub.NoopPlanPublisher{}
	}
	return &billingService{
		repo:      repo,
		ledger:    ledger,
		catalog:   catalog,
		publisher: publisher,
		metrics:   m,
		logger:    logger.With().Str("service", "BillingService").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *billingService) ApplyPlan(ctx context.Context, uid, planID string) (model.CreditsSnapshot, error) {
	p := s.catalog.PlanByID(planID)
	if p.ID != planID {
		s.logger.Warn().Str("uid", uid).Str("requested_plan", planID).Msg("Unknown plan, applying free plan")
	}
	now := s.now()
	acct, err := updateAccount(ctx, s.repo, s.ledger, uid, func(a *model.UserAccount) error {
		a.PlanID = p.ID
		a.IsPremium = p.IsPremium
		a.CreditsTotal = p.DailyCredits
		a.CreditsRemaining = p.DailyCredits
		a.PendingPlanID = ""
		a.Touch(now)
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("uid", uid).Str("plan_id", p.ID).Msg("Failed to apply plan")
		return model.CreditsSnapshot{}, fmt.Errorf("apply plan %s for user %s: %w", p.ID, uid, err)
	}

	source := planSource(ctx)
	s.metrics.ObservePlanApplied(p.ID, source)
	s.logger.Info().Str("uid", uid).Str("plan_id", p.ID).Str("source", source).Int("credits", p.DailyCredits).Msg("Plan applied")

	evt := pubsub.PlanApplied{
		UID:          uid,
		PlanID:       p.ID,
		IsPremium:    p.IsPremium,
		CreditsTotal: p.DailyCredits,
		Source:       source,
		AppliedAt:    acct.UpdatedAt,
	}
	if err := s.publisher.PublishPlanApplied(ctx, evt); err != nil {
		s.logger.Warn().Err(err).Str("uid", uid).Str("plan_id", p.ID).Msg("Failed to publish plan event")
	}
	return acct.Snapshot(), nil
}
