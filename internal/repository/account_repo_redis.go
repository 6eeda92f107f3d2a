package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"creditledger/internal/model"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

const redisAccountPrefix = "ledger:account:"

func redisAccountKey(uid string) string {
	return redisAccountPrefix + uid
}

type redisAccountRepo struct {
	client *redis.Client
	cfg    TxConfig
	logger zerolog.Logger
}

// NewRedisAccountRepo creates an AccountRepository storing each account as a
// JSON document. Updates use WATCH/MULTI/EXEC and retry when the key changes
// underneath them.
func NewRedisAccountRepo(client *redis.Client, cfg TxConfig, logger zerolog.Logger) AccountRepository {
	return &redisAccountRepo{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("repository", "redis").Logger(),
	}
}

func (r *redisAccountRepo) Create(ctx context.Context, acct *model.UserAccount) (bool, error) {
	data, err := json.Marshal(acct)
	if err != nil {
		return false, fmt.Errorf("encoding account for user %s: %w", acct.UID, err)
	}
	created, err := r.client.SetNX(ctx, redisAccountKey(acct.UID), data, 0).Result()
	if err != nil {
		return false, fmt.Errorf("inserting account for user %s: %w", acct.UID, err)
	}
	return created, nil
}

func (r *redisAccountRepo) Get(ctx context.Context, uid string) (*model.UserAccount, error) {
	raw, err := r.client.Get(ctx, redisAccountKey(uid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching account for user %s: %w", uid, err)
	}
	return decodeAccount(uid, raw)
}

func decodeAccount(uid string, raw []byte) (*model.UserAccount, error) {
	var acct model.UserAccount
	if err := json.Unmarshal(raw, &acct); err != nil {
		return nil, fmt.Errorf("decoding account for user %s: %w", uid, err)
	}
	return &acct, nil
}

func (r *redisAccountRepo) RunInTx(ctx context.Context, uid string, fn TxFunc) (*model.UserAccount, error) {
	key := redisAccountKey(uid)
	var result *model.UserAccount

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrAccountNotFound
		}
		if err != nil {
			return fmt.Errorf("fetching account for user %s: %w", uid, err)
		}
		acct, err := decodeAccount(uid, raw)
		if err != nil {
			return err
		}
		if err := fn(acct); err != nil {
			return err
		}
		acct.UID = uid
		data, err := json.Marshal(acct)
		if err != nil {
			return fmt.Errorf("encoding account for user %s: %w", uid, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err != nil {
			return err
		}
		result = acct
		return nil
	}

	maxAttempts := r.cfg.attempts()
	for attempt := 1; ; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, err
		}
		if attempt >= maxAttempts {
			r.logger.Warn().Str("uid", uid).Int("attempts", attempt).Msg("Transaction retry budget exhausted")
			return nil, fmt.Errorf("updating account for user %s after %d attempts: %w", uid, attempt, ErrTxConflict)
		}
		r.cfg.observe("redis")
		if err := r.cfg.wait(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

func (r *redisAccountRepo) ResetAllCredits(ctx context.Context, now time.Time) (int64, error) {
	var (
		cursor uint64
		n      int64
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, redisAccountPrefix+"*", 100).Result()
		if err != nil {
			return n, fmt.Errorf("scanning accounts: %w", err)
		}
		for _, key := range keys {
			uid := strings.TrimPrefix(key, redisAccountPrefix)
			var changed bool
			_, err := r.RunInTx(ctx, uid, refillTx(now, &changed))
			if errors.Is(err, ErrAccountNotFound) {
				continue
			}
			if err != nil {
				return n, fmt.Errorf("resetting credits for user %s: %w", uid, err)
			}
			if changed {
				n++
			}
		}
		cursor = next
		if cursor == 0 {
			return n, nil
		}
	}
}

// refillTx tops an account back up to its total. changed reports whether the
// last run modified it; it is reset on every run since a WATCH conflict
// re-runs the closure against fresh state.
func refillTx(now time.Time, changed *bool) TxFunc {
	return func(acct *model.UserAccount) error {
		*changed = false
		if acct.CreditsRemaining == acct.CreditsTotal {
			return nil
		}
		acct.CreditsRemaining = acct.CreditsTotal
		acct.Touch(now)
		*changed = true
		return nil
	}
}
