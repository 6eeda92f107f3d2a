package repository

import (
	"context"
	"errors"
	"time"

	"creditledger/internal/model"
)

var (
	// ErrAccountNotFound is returned when no account exists for a uid.
	ErrAccountNotFound = errors.New("account_not_found")
	// ErrTxConflict is returned when a transaction kept conflicting until the retry budget ran out.
	ErrTxConflict = errors.New("tx_conflict")
)

// TxFunc mutates the account it is handed. It may run more than once when the
// store retries, so it must only touch the account and its own locals.
type TxFunc func(acct *model.UserAccount) error

// AccountRepository is the transactional store for user accounts.
type AccountRepository interface {
	// Create inserts acct unless an account with the same uid already exists.
	// It reports whether this call created the record.
	Create(ctx context.Context, acct *model.UserAccount) (bool, error)
	// Get returns the account or ErrAccountNotFound.
	Get(ctx context.Context, uid string) (*model.UserAccount, error)
	// RunInTx reads the account, applies fn and writes the result atomically,
	// retrying on store conflicts. An error from fn aborts without writing.
	RunInTx(ctx context.Context, uid string, fn TxFunc) (*model.UserAccount, error)
	// ResetAllCredits sets every account's remaining credits back to its total
	// and returns how many accounts changed.
	ResetAllCredits(ctx context.Context, now time.Time) (int64, error)
}

// RetryObserver is told about every conflict that leads to a retry.
type RetryObserver interface {
	ObserveTxRetry(backend string)
}

// TxConfig bounds the retry loop shared by the Postgres and Redis drivers.
type TxConfig struct {
	MaxAttempts int
	Backoff     time.Duration
	Observer    RetryObserver
}

func (c TxConfig) attempts() int {
	if c.MaxAttempts < 1 {
		return 1
	}
	return c.MaxAttempts
}

func (c TxConfig) observe(backend string) {
	if c.Observer != nil {
		c.Observer.ObserveTxRetry(backend)
	}
}

// wait sleeps attempt*Backoff or until ctx is done.
func (c TxConfig) wait(ctx context.Context, attempt int) error {
	if c.Backoff <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(time.Duration(attempt) * c.Backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
