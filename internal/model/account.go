package model

import "time"

// UserAccount is the persisted credit and plan state for one identity.
type UserAccount struct {
	UID              string    `db:"uid" json:"uid"`
	Email            string    `db:"email" json:"email,omitempty"`
	PlanID           string    `db:"plan_id" json:"plan_id"`
	IsPremium        bool      `db:"is_premium" json:"is_premium"`
	CreditsTotal     int       `db:"credits_total" json:"credits_total"`
	CreditsRemaining int       `db:"credits_remaining" json:"credits_remaining"`
	PendingPlanID    string    `db:"pending_plan_id" json:"pending_plan_id,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Touch advances UpdatedAt to now, never backwards.
func (a *UserAccount) Touch(now time.Time) {
	if now.After(a.UpdatedAt) {
		a.UpdatedAt = now
	}
}

// Snapshot returns a read-only view of the account's balance and plan.
func (a *UserAccount) Snapshot() CreditsSnapshot {
	return CreditsSnapshot{
		UID:              a.UID,
		PlanID:           a.PlanID,
		IsPremium:        a.IsPremium,
		CreditsTotal:     a.CreditsTotal,
		CreditsRemaining: a.CreditsRemaining,
		PendingPlanID:    a.PendingPlanID,
		UpdatedAt:        a.UpdatedAt,
	}
}

// CreditsSnapshot is what the ledger hands back to callers.
type CreditsSnapshot struct {
	UID              string    `json:"uid"`
	PlanID           string    `json:"plan_id"`
	IsPremium        bool      `json:"is_premium"`
	CreditsTotal     int       `json:"credits_total"`
	CreditsRemaining int       `json:"credits_remaining"`
	PendingPlanID    string    `json:"pending_plan_id,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}
