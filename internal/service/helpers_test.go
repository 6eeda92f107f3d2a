package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"creditledger/internal/metrics"
	"creditledger/internal/model"
	"creditledger/internal/plan"
	"creditledger/internal/pubsub"
	"creditledger/internal/repository"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type recordingPlanPublisher struct {
	mu     sync.Mutex
	events []pubsub.PlanApplied
	err    error
}

func (p *recordingPlanPublisher) PublishPlanApplied(_ context.Context, evt pubsub.PlanApplied) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

func (p *recordingPlanPublisher) last() pubsub.PlanApplied {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

type fakeProvider struct {
	configured bool
	readyErr   error
	url        string
	err        error
	requests   []CheckoutRequest
}

func (f *fakeProvider) Configured() bool { return f.configured }

func (f *fakeProvider) Ready() error { return f.readyErr }

func (f *fakeProvider) CreateCheckoutSession(_ context.Context, req CheckoutRequest) (string, error) {
	f.requests = append(f.requests, req)
	return f.url, f.err
}

type testServices struct {
	repo      repository.AccountRepository
	catalog   *plan.Catalog
	metrics   *metrics.Metrics
	publisher *recordingPlanPublisher
	ledger    LedgerService
	billing   BillingService
}

func pricedCatalog(t *testing.T) *plan.Catalog {
	t.Helper()
	c, err := plan.DefaultCatalog().WithPriceRefs(map[string]string{"starter": "price_starter"})
	require.NoError(t, err)
	return c
}

func newTestServices(t *testing.T, repo repository.AccountRepository) *testServices {
	t.Helper()
	if repo == nil {
		repo = repository.NewMemoryAccountRepo()
	}
	ts := &testServices{
		repo:      repo,
		catalog:   pricedCatalog(t),
		metrics:   metrics.NewMetrics(prometheus.NewRegistry()),
		publisher: &recordingPlanPublisher{},
	}
	ts.ledger = NewLedgerService(repo, ts.catalog, ts.metrics, zerolog.Nop())
	ts.billing = NewBillingService(repo, ts.ledger, ts.catalog, ts.publisher, ts.metrics, zerolog.Nop())
	return ts
}

// conflictRepo behaves like its embedded repository except that every
// transaction reports an exhausted retry budget.
type conflictRepo struct {
	repository.AccountRepository
}

func (conflictRepo) RunInTx(context.Context, string, repository.TxFunc) (*model.UserAccount, error) {
	return nil, repository.ErrTxConflict
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
