package repository

import (
	"context"
	"sync"
	"time"

	"creditledger/internal/model"
)

type memoryAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]model.UserAccount
}

// NewMemoryAccountRepo creates a process-local AccountRepository. A single
// mutex is held for the whole of every transaction.
func NewMemoryAccountRepo() AccountRepository {
	return &memoryAccountRepo{accounts: make(map[string]model.UserAccount)}
}

func (r *memoryAccountRepo) Create(ctx context.Context, acct *model.UserAccount) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[acct.UID]; ok {
		return false, nil
	}
	r.accounts[acct.UID] = *acct
	return true, nil
}

func (r *memoryAccountRepo) Get(ctx context.Context, uid string) (*model.UserAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.accounts[uid]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &acct, nil
}

func (r *memoryAccountRepo) RunInTx(ctx context.Context, uid string, fn TxFunc) (*model.UserAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.accounts[uid]
	if !ok {
		return nil, ErrAccountNotFound
	}
	if err := fn(&acct); err != nil {
		return nil, err
	}
	acct.UID = uid
	r.accounts[uid] = acct
	out := acct
	return &out, nil
}

func (r *memoryAccountRepo) ResetAllCredits(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for uid, acct := range r.accounts {
		if acct.CreditsRemaining == acct.CreditsTotal {
			continue
		}
		acct.CreditsRemaining = acct.CreditsTotal
		acct.Touch(now)
		r.accounts[uid] = acct
		n++
	}
	return n, nil
}
