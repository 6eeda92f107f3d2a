package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// StripeProvider creates Stripe Checkout sessions in subscription mode.
type StripeProvider struct {
	sc         *client.API
	configured bool
	appURL     string
	logger     zerolog.Logger
}

// NewStripeProvider builds a provider for secretKey. backends may be nil to
// talk to the live Stripe API.
func NewStripeProvider(secretKey, publicAppURL string, backends *stripe.Backends, logger zerolog.Logger) *StripeProvider {
	sc := &client.API{}
	sc.Init(secretKey, backends)
	return &StripeProvider{
		sc:         sc,
		configured: strings.TrimSpace(secretKey) != "",
		appURL:     strings.TrimRight(strings.TrimSpace(publicAppURL), "/"),
		logger:     logger.With().Str("service", "StripeProvider").Logger(),
	}
}

func (p *StripeProvider) Configured() bool {
	return p != nil && p.configured
}

// Ready fails when sessions cannot be opened, such as when there is no app
// URL to send the customer back to.
func (p *StripeProvider) Ready() error {
	if !p.Configured() || p.appURL == "" {
		return ErrPaymentProviderUnconfigured
	}
	return nil
}

// CreateCheckoutSession opens a hosted checkout session and returns its URL.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	if err := p.Ready(); err != nil {
		return "", fmt.Errorf("stripe checkout for user %s: %w", req.UID, err)
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems:         []*stripe.CheckoutSessionLineItemParams{{Price: stripe.String(req.PriceRef), Quantity: stripe.Int64(1)}},
		SuccessURL:        stripe.String(p.appURL + "/pricing?success=1"),
		CancelURL:         stripe.String(p.appURL + "/pricing?canceled=1"),
		ClientReferenceID: stripe.String(req.UID),
		Metadata:          map[string]string{"uid": req.UID, "plan_id": req.PlanID},
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.Context = ctx

	sess, err := p.sc.CheckoutSessions.New(params)
	if err != nil {
		p.logger.Error().Err(err).Str("uid", req.UID).Str("plan_id", req.PlanID).Msg("Failed to create Stripe checkout session")
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}
