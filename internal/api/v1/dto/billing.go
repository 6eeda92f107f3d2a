package dto

// CheckoutRequest starts a purchase of plan_id.
type CheckoutRequest struct {
	PlanID string `json:"plan_id" validate:"required,max=64"`
}

// CheckoutResponseDTO carries the hosted checkout URL, or applied=true when
// the plan took effect without a payment step.
type CheckoutResponseDTO struct {
	CheckoutURL string              `json:"checkout_url,omitempty"`
	Applied     bool                `json:"applied"`
	Credits     *CreditsResponseDTO `json:"credits,omitempty"`
}

type WebhookResponseDTO struct {
	Received bool   `json:"received"`
	Type     string `json:"type,omitempty"`
}
