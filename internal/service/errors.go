package service

import (
	"errors"
	"fmt"

	"creditledger/internal/repository"
)

var (
	// ErrInsufficientCredits is returned when a debit exceeds the remaining balance.
	ErrInsufficientCredits = errors.New("insufficient_credits")
	// ErrInvalidPlan is returned for unknown plan ids and for purchases of the free plan.
	ErrInvalidPlan = errors.New("invalid_plan")
	// ErrPaymentProviderUnconfigured is returned when an operation needs payment
	// provider settings that are missing.
	ErrPaymentProviderUnconfigured = errors.New("payment_provider_unconfigured")
	// ErrWebhookVerificationFailed is returned when an inbound event cannot be authenticated.
	ErrWebhookVerificationFailed = errors.New("webhook_verification_failed")
	// ErrTransientStoreConflict is returned when the store kept conflicting; callers may retry.
	ErrTransientStoreConflict = errors.New("transient_store_conflict")
	// ErrMissingUser is returned when an operation is called without a uid.
	ErrMissingUser = errors.New("missing_user")
)

// IsRetryable reports whether err is worth retrying as-is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientStoreConflict)
}

// translateStoreErr maps repository conflicts onto ErrTransientStoreConflict.
func translateStoreErr(err error) error {
	if errors.Is(err, repository.ErrTxConflict) {
		return fmt.Errorf("%w: %w", ErrTransientStoreConflict, err)
	}
	return err
}
