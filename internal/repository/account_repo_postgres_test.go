package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"creditledger/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var accountColumnNames = []string{
	"uid", "email", "plan_id", "is_premium", "credits_total",
	"credits_remaining", "pending_plan_id", "created_at", "updated_at",
}

type countingObserver struct{ retries map[string]int }

func (o *countingObserver) ObserveTxRetry(backend string) {
	if o.retries == nil {
		o.retries = map[string]int{}
	}
	o.retries[backend]++
}

func accountRow(uid string, total, remaining int, ts time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(accountColumnNames).
		AddRow(uid, "", "free", false, total, remaining, "", ts, ts)
}

func TestPostgresCreate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresAccountRepo(db, TxConfig{MaxAttempts: 3}, zerolog.Nop())
	now := time.Now().UTC()
	acct := &model.UserAccount{UID: "u1", PlanID: "free", CreditsTotal: 5, CreditsRemaining: 5, CreatedAt: now, UpdatedAt: now}

	mock.ExpectExec("INSERT INTO user_accounts (.+) ON CONFLICT \\(uid\\) DO NOTHING").
		WithArgs("u1", "", "free", false, 5, 5, "", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO user_accounts").
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := repo.Create(context.Background(), acct)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.Create(context.Background(), acct)
	require.NoError(t, err)
	assert.False(t, created)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresAccountRepo(db, TxConfig{}, zerolog.Nop())
	mock.ExpectQuery("SELECT (.+) FROM user_accounts WHERE uid").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(accountColumnNames))

	_, err = repo.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRunInTxCommits(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresAccountRepo(db, TxConfig{MaxAttempts: 3}, zerolog.Nop())
	ts := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM user_accounts WHERE uid = \\$1 FOR UPDATE").
		WithArgs("u1").
		WillReturnRows(accountRow("u1", 5, 5, ts))
	mock.ExpectExec("UPDATE user_accounts").
		WithArgs("u1", "", "free", false, 5, 4, "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	acct, err := repo.RunInTx(context.Background(), "u1", func(a *model.UserAccount) error {
		a.CreditsRemaining--
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, acct.CreditsRemaining)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRunInTxRetriesSerializationFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	obs := &countingObserver{}
	repo := NewPostgresAccountRepo(db, TxConfig{MaxAttempts: 3, Observer: obs}, zerolog.Nop())
	ts := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("u1").WillReturnRows(accountRow("u1", 5, 5, ts))
	mock.ExpectExec("UPDATE user_accounts").WillReturnError(&pgconn.PgError{Code: "40001", Message: "could not serialize access"})
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("u1").WillReturnRows(accountRow("u1", 5, 3, ts))
	mock.ExpectExec("UPDATE user_accounts").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	calls := 0
	acct, err := repo.RunInTx(context.Background(), "u1", func(a *model.UserAccount) error {
		calls++
		a.CreditsRemaining--
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	// the second attempt saw the fresh row, not the first attempt's mutation
	assert.Equal(t, 2, acct.CreditsRemaining)
	assert.Equal(t, 1, obs.retries["postgres"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRunInTxExhaustsRetries(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresAccountRepo(db, TxConfig{MaxAttempts: 2}, zerolog.Nop())
	ts := time.Now().UTC()

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").WithArgs("u1").WillReturnRows(accountRow("u1", 5, 5, ts))
		mock.ExpectExec("UPDATE user_accounts").WillReturnError(&pgconn.PgError{Code: "40P01"})
		mock.ExpectRollback()
	}

	_, err = repo.RunInTx(context.Background(), "u1", func(a *model.UserAccount) error {
		a.CreditsRemaining--
		return nil
	})
	assert.ErrorIs(t, err, ErrTxConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRunInTxClosureErrorRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresAccountRepo(db, TxConfig{MaxAttempts: 3}, zerolog.Nop())
	ts := time.Now().UTC()
	errStop := errors.New("stop")

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("u1").WillReturnRows(accountRow("u1", 5, 0, ts))
	mock.ExpectRollback()

	_, err = repo.RunInTx(context.Background(), "u1", func(a *model.UserAccount) error {
		return errStop
	})
	assert.ErrorIs(t, err, errStop)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRunInTxMissingAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresAccountRepo(db, TxConfig{MaxAttempts: 3}, zerolog.Nop())

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("ghost").WillReturnRows(sqlmock.NewRows(accountColumnNames))
	mock.ExpectRollback()

	_, err = repo.RunInTx(context.Background(), "ghost", func(a *model.UserAccount) error { return nil })
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresResetAllCredits(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresAccountRepo(db, TxConfig{}, zerolog.Nop())
	now := time.Now().UTC()

	mock.ExpectExec("UPDATE user_accounts SET credits_remaining = credits_total").
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := repo.ResetAllCredits(context.Background(), now)
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsurePostgresSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS user_accounts").
		WillReturnResult(driver.ResultNoRows)

	require.NoError(t, EnsurePostgresSchema(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsSerializationFailure(t *testing.T) {
	assert.True(t, isSerializationFailure(&pgconn.PgError{Code: "40001"}))
	assert.True(t, isSerializationFailure(errors.Join(errors.New("wrapped"), &pgconn.PgError{Code: "40P01"})))
	assert.False(t, isSerializationFailure(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isSerializationFailure(errors.New("boom")))
}
