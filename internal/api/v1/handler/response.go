package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"creditledger/internal/service"

	"github.com/rs/zerolog"
)

func writeJSON(w http.ResponseWriter, logger zerolog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error().Err(err).Msg("failed to encode response")
	}
}

// writeServiceError maps service sentinels onto status codes. Internal
// details never reach the client.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInsufficientCredits):
		http.Error(w, "insufficient credits", http.StatusPaymentRequired)
	case errors.Is(err, service.ErrInvalidPlan):
		http.Error(w, "invalid plan", http.StatusBadRequest)
	case errors.Is(err, service.ErrWebhookVerificationFailed):
		http.Error(w, "invalid signature", http.StatusBadRequest)
	case errors.Is(err, service.ErrMissingUser):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	case service.IsRetryable(err):
		w.Header().Set("Retry-After", "1")
		http.Error(w, "ledger busy, retry", http.StatusServiceUnavailable)
	default:
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
