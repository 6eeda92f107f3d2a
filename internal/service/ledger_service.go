package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"creditledger/internal/metrics"
	"creditledger/internal/model"
	"creditledger/internal/plan"
	"creditledger/internal/repository"

	"github.com/rs/zerolog"
)

// LedgerService owns per-user credit balances.
type LedgerService interface {
	// EnsureExists creates the account with the free allotment if it is missing
	// and backfills the email on an existing account that has none.
	EnsureExists(ctx context.Context, uid, email string) error
	// Get returns the current balance, creating the account on first touch.
	Get(ctx context.Context, uid string) (model.CreditsSnapshot, error)
	// Consume atomically debits amount credits or fails with ErrInsufficientCredits.
	Consume(ctx context.Context, uid string, amount int) (model.CreditsSnapshot, error)
	// RefillAll resets every account's balance to its plan allotment.
	RefillAll(ctx context.Context) (int64, error)
}

type ledgerService struct {
	repo    repository.AccountRepository
	catalog *plan.Catalog
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// NewLedgerService creates a new LedgerService with a scoped logger.
func NewLedgerService(repo repository.AccountRepository, catalog *plan.Catalog, m *metrics.Metrics, logger zerolog.Logger) LedgerService {
	return &ledgerService{
		repo:    repo,
		catalog: catalog,
		metrics: m,
		logger:  logger.With().Str("service", "LedgerService").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *ledgerService) EnsureExists(ctx context.Context, uid, email string) error {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return ErrMissingUser
	}
	free := s.catalog.Free()
	now := s.now()
	created, err := s.repo.Create(ctx, &model.UserAccount{
		UID:              uid,
		Email:            email,
		PlanID:           free.ID,
		IsPremium:        free.IsPremium,
		CreditsTotal:     free.DailyCredits,
		CreditsRemaining: free.DailyCredits,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("uid", uid).Msg("Failed to create account")
		return fmt.Errorf("create account for user %s: %w", uid, err)
	}
	if created {
		s.logger.Info().Str("uid", uid).Int("credits", free.DailyCredits).Msg("Account initialized on free plan")
		return nil
	}
	if email == "" {
		return nil
	}

	existing, err := s.repo.Get(ctx, uid)
	if err != nil {
		return fmt.Errorf("fetch account for user %s: %w", uid, err)
	}
	if existing.Email != "" {
		return nil
	}
	_, err = s.repo.RunInTx(ctx, uid, func(a *model.UserAccount) error {
		if a.Email == "" {
			a.Email = email
			a.Touch(now)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("backfill email for user %s: %w", uid, translateStoreErr(err))
	}
	return nil
}

func (s *ledgerService) Get(ctx context.Context, uid string) (model.CreditsSnapshot, error) {
	acct, err := s.repo.Get(ctx, uid)
	if errors.Is(err, repository.ErrAccountNotFound) {
		if err := s.EnsureExists(ctx, uid, ""); err != nil {
			return model.CreditsSnapshot{}, err
		}
		acct, err = s.repo.Get(ctx, uid)
	}
	if err != nil {
		return model.CreditsSnapshot{}, fmt.Errorf("fetch credits for user %s: %w", uid, err)
	}
	return acct.Snapshot(), nil
}

func (s *ledgerService) Consume(ctx context.Context, uid string, amount int) (model.CreditsSnapshot, error) {
	if amount <= 0 {
		return s.Get(ctx, uid)
	}
	acct, err := updateAccount(ctx, s.repo, s, uid, func(a *model.UserAccount) error {
		if a.CreditsRemaining < amount {
			return ErrInsufficientCredits
		}
		a.CreditsRemaining -= amount
		a.Touch(s.now())
		return nil
	})
	switch {
	case errors.Is(err, ErrInsufficientCredits):
		s.metrics.ObserveConsume("insufficient")
		return model.CreditsSnapshot{}, fmt.Errorf("consume %d credits for user %s: %w", amount, uid, err)
	case err != nil:
		s.metrics.ObserveConsume("error")
		s.logger.Error().Err(err).Str("uid", uid).Int("amount", amount).Msg("Failed to consume credits")
		return model.CreditsSnapshot{}, fmt.Errorf("consume %d credits for user %s: %w", amount, uid, err)
	}
	s.metrics.ObserveConsume("ok")
	return acct.Snapshot(), nil
}

func (s *ledgerService) RefillAll(ctx context.Context) (int64, error) {
	n, err := s.repo.ResetAllCredits(ctx, s.now())
	if err != nil {
		s.logger.Error().Err(err).Int64("refilled", n).Msg("Refill sweep failed")
		return n, fmt.Errorf("refill credits: %w", err)
	}
	s.metrics.ObserveRefill(n)
	s.logger.Info().Int64("refilled", n).Msg("Refill sweep complete")
	return n, nil
}

// updateAccount runs fn in a store transaction, creating the account first
// when it does not exist yet.
func updateAccount(ctx context.Context, repo repository.AccountRepository, ledger LedgerService, uid string, fn repository.TxFunc) (*model.UserAccount, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, ErrMissingUser
	}
	acct, err := repo.RunInTx(ctx, uid, fn)
	if errors.Is(err, repository.ErrAccountNotFound) {
		if err := ledger.EnsureExists(ctx, uid, ""); err != nil {
			return nil, err
		}
		acct, err = repo.RunInTx(ctx, uid, fn)
	}
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return acct, nil
}
