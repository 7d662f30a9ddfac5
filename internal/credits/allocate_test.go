package credits

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dan9191/telehealth-credits/internal/events"
	"github.com/Dan9191/telehealth-credits/internal/models"
	"github.com/Dan9191/telehealth-credits/internal/repository/memory"
)

func TestAllocateIfDue_FirstAllocation(t *testing.T) {
	for name, newStore := range stores(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, newStore())
			patient := f.account(t, "pat@example.com", models.RolePatient, 0)

			res := f.ledger.AllocateIfDue(context.Background(), patient, "standard")

			require.Equal(t, StatusAllocated, res.Status)
			assert.Equal(t, "standard", res.Plan)
			assert.Equal(t, int64(10), res.Amount)
			assert.Equal(t, int64(10), res.Account.Credits)
			require.Len(t, res.Account.Transactions, 1)
			assert.Equal(t, models.KindAllocation, res.Account.Transactions[0].Kind)

			assert.Equal(t, int64(10), f.balance(t, patient.ID))
			txs := f.transactions(t, patient.ID)
			require.Len(t, txs, 1)
			assert.Equal(t, int64(10), txs[0].Amount)
			assert.Equal(t, "standard", txs[0].PlanTag)
			assert.Equal(t, "2026-10", txs[0].Period)
			f.requireConsistent(t, patient.ID)
		})
	}
}

func TestAllocateIfDue_IdempotentWithinMonth(t *testing.T) {
	for name, newStore := range stores(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, newStore())
			patient := f.account(t, "pat@example.com", models.RolePatient, 0)
			ctx := context.Background()

			first := f.ledger.AllocateIfDue(ctx, patient, "standard")
			require.True(t, first.Allocated())

			f.clock.Set(time.Date(2026, time.October, 31, 23, 59, 0, 0, time.UTC))
			second := f.ledger.AllocateIfDue(ctx, first.Account, "standard")

			assert.Equal(t, StatusAlreadyAllocated, second.Status)
			assert.Same(t, first.Account, second.Account)
			assert.Equal(t, int64(10), f.balance(t, patient.ID))
			assert.Equal(t, 1, countKind(f.transactions(t, patient.ID), models.KindAllocation))
		})
	}
}

func TestAllocateIfDue_NextMonthAllocatesAgain(t *testing.T) {
	f := newFixture(t, memory.NewStore())
	patient := f.account(t, "pat@example.com", models.RolePatient, 0)
	ctx := context.Background()

	require.True(t, f.ledger.AllocateIfDue(ctx, patient, "premium").Allocated())
	f.clock.Set(time.Date(2026, time.November, 1, 0, 0, 1, 0, time.UTC))
	res := f.ledger.AllocateIfDue(ctx, patient, "premium")

	require.Equal(t, StatusAllocated, res.Status)
	assert.Equal(t, int64(48), f.balance(t, patient.ID))
	f.requireConsistent(t, patient.ID)
}

func TestAllocateIfDue_DeductionDoesNotHideAllocation(t *testing.T) {
	f := newFixture(t, memory.NewStore())
	patient := f.account(t, "pat@example.com", models.RolePatient, 0)
	doctor := f.account(t, "doc@example.com", models.RoleDoctor, 0)
	ctx := context.Background()

	require.True(t, f.ledger.AllocateIfDue(ctx, patient, "standard").Allocated())
	f.clock.Set(time.Date(2026, time.November, 2, 9, 0, 0, 0, time.UTC))
	require.True(t, f.ledger.Deduct(ctx, patient.ID, doctor.ID, 2).Success)

	// The latest entry is a November deduction; November's grant is still due.
	res := f.ledger.AllocateIfDue(ctx, patient, "standard")
	require.Equal(t, StatusAllocated, res.Status)
	assert.Equal(t, int64(18), f.balance(t, patient.ID))

	again := f.ledger.AllocateIfDue(ctx, patient, "standard")
	assert.Equal(t, StatusAlreadyAllocated, again.Status)
	f.requireConsistent(t, patient.ID, doctor.ID)
}

func TestAllocateIfDue_PlanUpgradeGrantsNewPlan(t *testing.T) {
	f := newFixture(t, memory.NewStore())
	patient := f.account(t, "pat@example.com", models.RolePatient, 0)
	ctx := context.Background()

	require.True(t, f.ledger.AllocateIfDue(ctx, patient, "free_user").Allocated())
	res := f.ledger.AllocateIfDue(ctx, patient, "premium")
	require.Equal(t, StatusAllocated, res.Status)
	assert.Equal(t, int64(26), f.balance(t, patient.ID))

	// Downgrading back in the same month does not repeat the free grant.
	back := f.ledger.AllocateIfDue(ctx, patient, "free_user")
	assert.Equal(t, StatusAlreadyAllocated, back.Status)
	assert.Equal(t, int64(26), f.balance(t, patient.ID))
}

func TestAllocateIfDue_NonPatientUnchanged(t *testing.T) {
	for _, role := range []models.Role{models.RoleDoctor, models.RoleAdmin, models.RoleUnassigned} {
		t.Run(string(role), func(t *testing.T) {
			f := newFixture(t, memory.NewStore())
			acc := f.account(t, "someone@example.com", role, 0)

			res := f.ledger.AllocateIfDue(context.Background(), acc, "premium")

			assert.Equal(t, StatusNotConsumer, res.Status)
			assert.Same(t, acc, res.Account)
			assert.Zero(t, f.balance(t, acc.ID))
			assert.Empty(t, f.transactions(t, acc.ID))
		})
	}
}

func TestAllocateIfDue_NoEntitlement(t *testing.T) {
	f := newFixture(t, memory.NewStore())
	patient := f.account(t, "pat@example.com", models.RolePatient, 0)

	for _, claim := range []string{"", "enterprise"} {
		res := f.ledger.AllocateIfDue(context.Background(), patient, claim)
		assert.Equal(t, StatusNoEntitlement, res.Status)
		assert.Same(t, patient, res.Account)
	}
	assert.Empty(t, f.transactions(t, patient.ID))
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.AllocationSkips.WithLabelValues(string(StatusNoEntitlement))))
}

func TestAllocateIfDue_NilAccount(t *testing.T) {
	f := newFixture(t, memory.NewStore())
	res := f.ledger.AllocateIfDue(context.Background(), nil, "standard")
	assert.Equal(t, StatusNoAccount, res.Status)
	assert.Nil(t, res.Account)
}

func TestAllocateIfDue_DeactivatedAccount(t *testing.T) {
	f := newFixture(t, memory.NewStore())
	patient := f.account(t, "pat@example.com", models.RolePatient, 0)
	require.NoError(t, f.store.SetActive(context.Background(), patient.ID, false))

	res := f.ledger.AllocateIfDue(context.Background(), patient, "standard")
	assert.Equal(t, StatusNoAccount, res.Status)
	assert.Empty(t, f.transactions(t, patient.ID))
}

func TestAllocateIfDue_FailureIsSoft(t *testing.T) {
	store := memory.NewStore()
	f := newFixture(t, store)
	patient := f.account(t, "pat@example.com", models.RolePatient, 0)
	store.CommitHook = func() error { return errors.New("disk on fire") }

	res := f.ledger.AllocateIfDue(context.Background(), patient, "standard")

	assert.Equal(t, StatusFailed, res.Status)
	assert.Same(t, patient, res.Account)
	assert.Zero(t, f.balance(t, patient.ID))
	assert.Empty(t, f.transactions(t, patient.ID))
	assert.Empty(t, f.publisher.Events())
}

func TestAllocateIfDue_MonthBoundaryFollowsLocation(t *testing.T) {
	store := memory.NewStore()
	f := newFixture(t, store)
	tokyo := time.FixedZone("JST", 9*60*60)
	f.ledger = New(store, quietLogger(), WithClock(f.clock.Now), WithLocation(tokyo))
	patient := f.account(t, "pat@example.com", models.RolePatient, 0)
	ctx := context.Background()

	// 20:00 UTC on Oct 31 is already November in Tokyo.
	f.clock.Set(time.Date(2026, time.October, 31, 20, 0, 0, 0, time.UTC))
	res := f.ledger.AllocateIfDue(ctx, patient, "standard")
	require.True(t, res.Allocated())
	assert.Equal(t, "2026-11", res.Account.Transactions[0].Period)

	f.clock.Set(time.Date(2026, time.November, 10, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, StatusAlreadyAllocated, f.ledger.AllocateIfDue(ctx, patient, "standard").Status)
}

func TestAllocateIfDue_ConcurrentCallsAllocateOnce(t *testing.T) {
	for name, newStore := range stores(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, newStore())
			patient := f.account(t, "pat@example.com", models.RolePatient, 0)

			const workers = 16
			results := make([]AllocationResult, workers)
			var wg sync.WaitGroup
			start := make(chan struct{})
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					results[i] = f.ledger.AllocateIfDue(context.Background(), patient, "standard")
				}(i)
			}
			close(start)
			wg.Wait()

			allocated := 0
			for _, r := range results {
				switch r.Status {
				case StatusAllocated:
					allocated++
				case StatusAlreadyAllocated:
				default:
					t.Errorf("unexpected status %s", r.Status)
				}
			}
			assert.Equal(t, 1, allocated)
			assert.Equal(t, int64(10), f.balance(t, patient.ID))
			assert.Equal(t, 1, countKind(f.transactions(t, patient.ID), models.KindAllocation))
			f.requireConsistent(t, patient.ID)
		})
	}
}

func TestAllocateIfDue_PublishesAndCounts(t *testing.T) {
	f := newFixture(t, memory.NewStore())
	patient := f.account(t, "pat@example.com", models.RolePatient, 0)

	f.ledger.AllocateIfDue(context.Background(), patient, "premium")

	evs := f.publisher.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, events.TypeCreditsAllocated, evs[0].Type)
	assert.Equal(t, patient.ID, evs[0].AccountID)
	assert.Equal(t, int64(24), evs[0].Amount)
	assert.Equal(t, int64(24), evs[0].Balance)
	assert.Equal(t, "premium", evs[0].PlanTag)
	assert.Equal(t, "pat@example.com", evs[0].Email)
	assert.NotEmpty(t, evs[0].ID)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Allocations.WithLabelValues("premium")))
	assert.Equal(t, float64(24), testutil.ToFloat64(f.metrics.CreditsAllocated))
}

func TestAllocateAll(t *testing.T) {
	f := newFixture(t, memory.NewStore())
	ctx := context.Background()
	a := f.account(t, "a@example.com", models.RolePatient, 0)
	b := f.account(t, "b@example.com", models.RolePatient, 0)
	c := f.account(t, "c@example.com", models.RolePatient, 0)
	doc := f.account(t, "doc@example.com", models.RoleDoctor, 0)
	require.NoError(t, f.store.UpdatePlan(ctx, a.ID, "standard"))
	require.NoError(t, f.store.UpdatePlan(ctx, b.ID, "premium"))
	require.NoError(t, f.store.UpdatePlan(ctx, doc.ID, "premium"))

	sum, err := f.ledger.AllocateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepSummary{Checked: 2, Allocated: 2}, sum)
	assert.Equal(t, int64(10), f.balance(t, a.ID))
	assert.Equal(t, int64(24), f.balance(t, b.ID))
	assert.Zero(t, f.balance(t, c.ID))
	assert.Zero(t, f.balance(t, doc.ID))

	sum, err = f.ledger.AllocateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepSummary{Checked: 2}, sum)
}
