package credits

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Dan9191/telehealth-credits/internal/events"
	"github.com/Dan9191/telehealth-credits/internal/metrics"
	"github.com/Dan9191/telehealth-credits/internal/models"
	"github.com/Dan9191/telehealth-credits/internal/repository"
	"github.com/Dan9191/telehealth-credits/internal/repository/memory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.LedgerEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Events() []events.LedgerEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.LedgerEvent, len(p.events))
	copy(out, p.events)
	return out
}

type fixture struct {
	store     repository.Store
	ledger    *Ledger
	clock     *testClock
	metrics   *metrics.Metrics
	publisher *recordingPublisher
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newFixture(t *testing.T, store repository.Store) *fixture {
	t.Helper()
	f := &fixture{
		store:     store,
		clock:     &testClock{now: time.Date(2026, time.October, 15, 10, 0, 0, 0, time.UTC)},
		metrics:   metrics.New(prometheus.NewRegistry()),
		publisher: &recordingPublisher{},
	}
	f.ledger = New(store, quietLogger(),
		WithClock(f.clock.Now),
		WithMetrics(f.metrics),
		WithPublisher(f.publisher),
	)
	return f
}

func newSQLiteStore(t *testing.T) *repository.Repository {
	t.Helper()
	ctx := context.Background()
	repo, err := repository.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	require.NoError(t, repo.Migrate(ctx))
	return repo
}

// stores returns one fresh store per backend.
func stores(t *testing.T) map[string]func() repository.Store {
	return map[string]func() repository.Store{
		"memory": func() repository.Store { return memory.NewStore() },
		"sqlite": func() repository.Store { return newSQLiteStore(t) },
	}
}

func (f *fixture) account(t *testing.T, email string, role models.Role, credits int64) *models.Account {
	t.Helper()
	ctx := context.Background()
	acc := &models.Account{Email: email, Name: email}
	require.NoError(t, f.store.CreateAccount(ctx, acc))
	if role != models.RoleUnassigned {
		acc.Role = role
		require.NoError(t, f.store.UpdateProfile(ctx, acc))
	}
	if credits > 0 {
		err := f.store.InTx(ctx, func(tx repository.Tx) error {
			if err := tx.InsertTransaction(ctx, &models.Transaction{
				AccountID: acc.ID, Amount: credits, Kind: models.KindCredit, CreatedAt: f.clock.Now(),
			}); err != nil {
				return err
			}
			_, err := tx.AdjustCredits(ctx, acc.ID, credits)
			return err
		})
		require.NoError(t, err)
	}
	got, err := f.store.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	return got
}

func (f *fixture) balance(t *testing.T, id int64) int64 {
	t.Helper()
	acc, err := f.store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acc.Credits
}

func (f *fixture) transactions(t *testing.T, id int64) []models.Transaction {
	t.Helper()
	txs, err := f.store.RecentTransactions(context.Background(), id, 100)
	require.NoError(t, err)
	return txs
}

func (f *fixture) requireConsistent(t *testing.T, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		rec, err := f.ledger.Reconcile(context.Background(), id)
		require.NoError(t, err)
		require.Truef(t, rec.Consistent(), "account %d: balance %d, ledger sum %d", id, rec.Balance, rec.LedgerSum)
	}
}

func countKind(txs []models.Transaction, kind models.TransactionKind) int {
	n := 0
	for _, tx := range txs {
		if tx.Kind == kind {
			n++
		}
	}
	return n
}
