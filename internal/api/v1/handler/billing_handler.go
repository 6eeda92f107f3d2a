package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"creditledger/internal/api/v1/dto"
	"creditledger/internal/middleware"
	"creditledger/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

const (
	maxWebhookBody        = 64 << 10
	stripeSignatureHeader = "Stripe-Signature"
)

// BillingHandler handles plan purchases and payment provider callbacks.
type BillingHandler struct {
	checkout service.CheckoutService
	webhooks service.WebhookService
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewBillingHandler(checkout service.CheckoutService, webhooks service.WebhookService, validate *validator.Validate, logger zerolog.Logger) *BillingHandler {
	return &BillingHandler{checkout: checkout, webhooks: webhooks, validate: validate, logger: logger}
}

// RegisterRoutes registers the billing endpoints. The webhook is public; its
// payload is authenticated by signature instead.
func (h *BillingHandler) RegisterRoutes(r chi.Router, authMiddleware func(http.Handler) http.Handler) {
	r.With(authMiddleware).Post("/billing/checkout", h.Checkout)
	r.Post("/billing/webhook", h.Webhook)
}

// Checkout godoc
// @Summary Start a plan purchase
// @Description Returns a hosted checkout URL, or applies the plan immediately when no payment provider is configured.
// @Tags billing
// @Accept json
// @Produce json
// @Param checkout body dto.CheckoutRequest true "Plan to buy"
// @Success 200 {object} dto.CheckoutResponseDTO
// @Failure 400 {string} string "invalid request payload"
// @Failure 401 {string} string "unauthorized"
// @Failure 503 {string} string "ledger busy, retry"
// @Failure 500 {string} string "failed to create checkout session"
// @Router /billing/checkout [post]
func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req dto.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, "plan_id is required", http.StatusBadRequest)
		return
	}

	res, err := h.checkout.StartCheckout(r.Context(), id.UID, req.PlanID)
	if err != nil {
		if !errors.Is(err, service.ErrInvalidPlan) {
			h.logger.Error().Err(err).Str("uid", id.UID).Str("plan_id", req.PlanID).Msg("failed to start checkout")
		}
		writeServiceError(w, err)
		return
	}

	resp := dto.CheckoutResponseDTO{CheckoutURL: res.URL, Applied: res.Applied}
	if res.Snapshot != nil {
		credits := dto.NewCreditsResponse(*res.Snapshot)
		resp.Credits = &credits
	}
	writeJSON(w, h.logger, http.StatusOK, resp)
}

// Webhook godoc
// @Summary Receive Stripe events
// @Description Verifies the Stripe-Signature header and applies completed checkouts.
// @Tags billing
// @Accept json
// @Produce json
// @Success 200 {object} dto.WebhookResponseDTO
// @Failure 400 {string} string "invalid signature"
// @Failure 413 {string} string "payload too large"
// @Failure 500 {string} string "webhook not configured"
// @Router /billing/webhook [post]
func (h *BillingHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	signature := r.Header.Get(stripeSignatureHeader)
	if signature == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	res, err := h.webhooks.HandleEvent(r.Context(), payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPaymentProviderUnconfigured):
			h.logger.Error().Err(err).Msg("webhook received but no signing secret is configured")
			http.Error(w, "webhook not configured", http.StatusInternalServerError)
		case errors.Is(err, service.ErrWebhookVerificationFailed):
			http.Error(w, "invalid signature", http.StatusBadRequest)
		default:
			h.logger.Error().Err(err).Str("type", res.Type).Msg("failed to process webhook")
			writeServiceError(w, err)
		}
		return
	}
	writeJSON(w, h.logger, http.StatusOK, dto.WebhookResponseDTO{Received: res.Received, Type: res.Type})
}
