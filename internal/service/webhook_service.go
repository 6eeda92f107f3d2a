package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"creditledger/internal/metrics"
	"creditledger/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// WebhookResult describes what HandleEvent did with an authentic event.
type WebhookResult struct {
	Received bool
	Type     string
	Applied  bool
	UID      string
	PlanID   string
}

// WebhookService processes signed payment provider events.
type WebhookService interface {
	HandleEvent(ctx context.Context, payload []byte, signature string) (WebhookResult, error)
}

type webhookService struct {
	secret  string
	repo    repository.AccountRepository
	billing BillingService
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewWebhookService creates a WebhookService verifying events with secret.
func NewWebhookService(secret string, repo repository.AccountRepository, billing BillingService, m *metrics.Metrics, logger zerolog.Logger) WebhookService {
	return &webhookService{
		secret:  secret,
		repo:    repo,
		billing: billing,
		metrics: m,
		logger:  logger.With().Str("service", "WebhookService").Logger(),
	}
}

func (s *webhookService) HandleEvent(ctx context.Context, payload []byte, signature string) (WebhookResult, error) {
	if s.secret == "" {
		s.metrics.ObserveWebhook("unknown", "rejected")
		return WebhookResult{}, fmt.Errorf("%w: %w", ErrWebhookVerificationFailed, ErrPaymentProviderUnconfigured)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		s.metrics.ObserveWebhook("unknown", "rejected")
		s.logger.Warn().Err(err).Msg("Signature verification failed for Stripe webhook")
		return WebhookResult{}, fmt.Errorf("%w: %v", ErrWebhookVerificationFailed, err)
	}

	eventType := string(event.Type)
	res := WebhookResult{Received: true, Type: eventType}
	s.logger.Info().Str("event_type", eventType).Str("event_id", event.ID).Msg("Stripe webhook received")

	if event.Type != stripe.EventTypeCheckoutSessionCompleted {
		s.metrics.ObserveWebhook(eventType, "ignored")
		return res, nil
	}

	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		s.metrics.ObserveWebhook(eventType, "malformed")
		s.logger.Warn().Err(err).Str("event_id", event.ID).Msg("Invalid checkout.session data")
		return res, nil
	}

	uid := cs.Metadata["uid"]
	if uid == "" {
		uid = cs.ClientReferenceID
	}
	if uid == "" {
		s.metrics.ObserveWebhook(eventType, "noop")
		s.logger.Warn().Str("session_id", cs.ID).Msg("Checkout session carries no user, ignoring")
		return res, nil
	}

	planID := cs.Metadata["plan_id"]
	if planID == "" {
		acct, err := s.repo.Get(ctx, uid)
		switch {
		case err == nil:
			planID = acct.PendingPlanID
		case !errors.Is(err, repository.ErrAccountNotFound):
			s.metrics.ObserveWebhook(eventType, "error")
			return res, fmt.Errorf("resolve pending plan for user %s: %w", uid, err)
		}
	}
	if planID == "" {
		s.metrics.ObserveWebhook(eventType, "noop")
		s.logger.Warn().Str("uid", uid).Str("session_id", cs.ID).Msg("Checkout session carries no plan, ignoring")
		return res, nil
	}

	snap, err := s.billing.ApplyPlan(WithPlanSource(ctx, SourceWebhook), uid, planID)
	if err != nil {
		s.metrics.ObserveWebhook(eventType, "error")
		return res, fmt.Errorf("handle %s for user %s: %w", eventType, uid, err)
	}
	s.metrics.ObserveWebhook(eventType, "applied")
	res.Applied = true
	res.UID = uid
	res.PlanID = snap.PlanID
	return res, nil
}
