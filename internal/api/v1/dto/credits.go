package dto

import (
	"time"

	"creditledger/internal/model"
	"creditledger/internal/plan"
)

// ConsumeRequest is the optional body of a consume call. A missing amount
// means one credit.
type ConsumeRequest struct {
	Amount *int `json:"amount,omitempty" validate:"omitempty,min=1,max=10000"`
}

// CreditsResponseDTO is returned by the balance endpoints.
type CreditsResponseDTO struct {
	UID              string    `json:"uid"`
	PlanID           string    `json:"plan_id"`
	IsPremium        bool      `json:"is_premium"`
	CreditsTotal     int       `json:"credits_total"`
	CreditsRemaining int       `json:"credits_remaining"`
	PendingPlanID    string    `json:"pending_plan_id,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func NewCreditsResponse(s model.CreditsSnapshot) CreditsResponseDTO {
	return CreditsResponseDTO{
		UID:              s.UID,
		PlanID:           s.PlanID,
		IsPremium:        s.IsPremium,
		CreditsTotal:     s.CreditsTotal,
		CreditsRemaining: s.CreditsRemaining,
		PendingPlanID:    s.PendingPlanID,
		UpdatedAt:        s.UpdatedAt,
	}
}

type PlanDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	DailyCredits int    `json:"daily_credits"`
	IsPremium    bool   `json:"is_premium"`
	Purchasable  bool   `json:"purchasable"`
}

// PlansResponseDTO lists the catalog and whether paid checkout is available.
type PlansResponseDTO struct {
	Plans            []PlanDTO `json:"plans"`
	StripeConfigured bool      `json:"stripe_configured"`
}

func NewPlansResponse(plans []plan.Plan, stripeConfigured bool) PlansResponseDTO {
	out := make([]PlanDTO, 0, len(plans))
	for _, p := range plans {
		out = append(out, PlanDTO{
			ID:           p.ID,
			Name:         p.Name,
			DailyCredits: p.DailyCredits,
			IsPremium:    p.IsPremium,
			Purchasable:  p.ID != plan.FreePlanID,
		})
	}
	return PlansResponseDTO{Plans: out, StripeConfigured: stripeConfigured}
}
