package middleware

import (
	"context"
	"errors"
	"net/http"

	"creditledger/internal/model"
	"creditledger/internal/service"

	"github.com/rs/zerolog"
)

// CostFunc reports how many credits a request costs. A non-nil error rejects
// the request with 400 before anything is debited.
type CostFunc func(r *http.Request) (int, error)

// FixedCost charges n credits per request.
func FixedCost(n int) CostFunc {
	return func(*http.Request) (int, error) { return n, nil }
}

func CreditsFromContext(ctx context.Context) (model.CreditsSnapshot, bool) {
	snap, ok := ctx.Value(CreditsContextKey).(model.CreditsSnapshot)
	return snap, ok
}

// RequireCredits debits the caller before next runs. Requests that cannot be
// paid for never reach next.
func RequireCredits(ledger service.LedgerService, cost CostFunc, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			amount, err := cost(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if err := ledger.EnsureExists(r.Context(), id.UID, id.Email); err != nil {
				logger.Error().Err(err).Str("uid", id.UID).Msg("Failed to ensure account")
				writeLedgerError(w, err)
				return
			}
			snap, err := ledger.Consume(r.Context(), id.UID, amount)
			if err != nil {
				if !errors.Is(err, service.ErrInsufficientCredits) {
					logger.Error().Err(err).Str("uid", id.UID).Msg("Failed to consume credits")
				}
				writeLedgerError(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), CreditsContextKey, snap)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInsufficientCredits):
		http.Error(w, "insufficient credits", http.StatusPaymentRequired)
	case errors.Is(err, service.ErrMissingUser):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	case service.IsRetryable(err):
		w.Header().Set("Retry-After", "1")
		http.Error(w, "ledger busy, retry", http.StatusServiceUnavailable)
	default:
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
