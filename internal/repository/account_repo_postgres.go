package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"creditledger/internal/model"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

const accountsSchema = `
CREATE TABLE IF NOT EXISTS user_accounts (
    uid               TEXT PRIMARY KEY,
    email             TEXT NOT NULL DEFAULT '',
    plan_id           TEXT NOT NULL,
    is_premium        BOOLEAN NOT NULL DEFAULT FALSE,
    credits_total     INTEGER NOT NULL,
    credits_remaining INTEGER NOT NULL,
    pending_plan_id   TEXT NOT NULL DEFAULT '',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT user_accounts_credits_bounds
        CHECK (credits_remaining >= 0 AND credits_remaining <= credits_total)
)`

const accountColumns = `uid, email, plan_id, is_premium, credits_total, credits_remaining, pending_plan_id, created_at, updated_at`

// EnsurePostgresSchema creates the user_accounts table if it is missing.
func EnsurePostgresSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, accountsSchema); err != nil {
		return fmt.Errorf("creating user_accounts table: %w", err)
	}
	return nil
}

type pgAccountRepo struct {
	db     *sql.DB
	cfg    TxConfig
	logger zerolog.Logger
}

// NewPostgresAccountRepo creates an AccountRepository backed by Postgres.
// Writes run in SERIALIZABLE transactions with the row locked FOR UPDATE.
func NewPostgresAccountRepo(db *sql.DB, cfg TxConfig, logger zerolog.Logger) AccountRepository {
	return &pgAccountRepo{
		db:     db,
		cfg:    cfg,
		logger: logger.With().Str("repository", "postgres").Logger(),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*model.UserAccount, error) {
	var a model.UserAccount
	err := row.Scan(
		&a.UID,
		&a.Email,
		&a.PlanID,
		&a.IsPremium,
		&a.CreditsTotal,
		&a.CreditsRemaining,
		&a.PendingPlanID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *pgAccountRepo) Create(ctx context.Context, acct *model.UserAccount) (bool, error) {
	const q = `
		INSERT INTO user_accounts (uid, email, plan_id, is_premium, credits_total, credits_remaining, pending_plan_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (uid) DO NOTHING`
	res, err := r.db.ExecContext(ctx, q,
		acct.UID,
		acct.Email,
		acct.PlanID,
		acct.IsPremium,
		acct.CreditsTotal,
		acct.CreditsRemaining,
		acct.PendingPlanID,
		acct.CreatedAt,
		acct.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("inserting account for user %s: %w", acct.UID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading insert result for user %s: %w", acct.UID, err)
	}
	return n == 1, nil
}

func (r *pgAccountRepo) Get(ctx context.Context, uid string) (*model.UserAccount, error) {
	q := `SELECT ` + accountColumns + ` FROM user_accounts WHERE uid = $1`
	acct, err := scanAccount(r.db.QueryRowContext(ctx, q, uid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching account for user %s: %w", uid, err)
	}
	return acct, nil
}

func (r *pgAccountRepo) RunInTx(ctx context.Context, uid string, fn TxFunc) (*model.UserAccount, error) {
	maxAttempts := r.cfg.attempts()
	for attempt := 1; ; attempt++ {
		acct, err := r.runOnce(ctx, uid, fn)
		if err == nil {
			return acct, nil
		}
		if !isSerializationFailure(err) {
			return nil, err
		}
		if attempt >= maxAttempts {
			r.logger.Warn().Str("uid", uid).Int("attempts", attempt).Msg("Transaction retry budget exhausted")
			return nil, fmt.Errorf("updating account for user %s after %d attempts: %w", uid, attempt, ErrTxConflict)
		}
		r.cfg.observe("postgres")
		r.logger.Debug().Err(err).Str("uid", uid).Int("attempt", attempt).Msg("Serialization conflict, retrying")
		if err := r.cfg.wait(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

func (r *pgAccountRepo) runOnce(ctx context.Context, uid string, fn TxFunc) (*model.UserAccount, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("starting transaction for user %s: %w", uid, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	q := `SELECT ` + accountColumns + ` FROM user_accounts WHERE uid = $1 FOR UPDATE`
	acct, err := scanAccount(tx.QueryRowContext(ctx, q, uid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("locking account for user %s: %w", uid, err)
	}

	if err := fn(acct); err != nil {
		return nil, err
	}
	acct.UID = uid

	const updateQ = `
		UPDATE user_accounts
		SET email = $2,
		    plan_id = $3,
		    is_premium = $4,
		    credits_total = $5,
		    credits_remaining = $6,
		    pending_plan_id = $7,
		    updated_at = $8
		WHERE uid = $1`
	if _, err := tx.ExecContext(ctx, updateQ,
		uid,
		acct.Email,
		acct.PlanID,
		acct.IsPremium,
		acct.CreditsTotal,
		acct.CreditsRemaining,
		acct.PendingPlanID,
		acct.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("updating account for user %s: %w", uid, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing account update for user %s: %w", uid, err)
	}
	return acct, nil
}

func (r *pgAccountRepo) ResetAllCredits(ctx context.Context, now time.Time) (int64, error) {
	const q = `
		UPDATE user_accounts
		SET credits_remaining = credits_total,
		    updated_at = GREATEST(updated_at, $1)
		WHERE credits_remaining <> credits_total`
	res, err := r.db.ExecContext(ctx, q, now)
	if err != nil {
		return 0, fmt.Errorf("resetting account credits: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading reset result: %w", err)
	}
	return n, nil
}

// isSerializationFailure matches serialization_failure and deadlock_detected.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
