// Package credits implements the credit ledger: monthly plan allocation,
// appointment deductions and balance reconciliation. Every balance change goes
// through a single store transaction together with its ledger row.
package credits

import (
	"context"
	"time"

	"github.com/Dan9191/telehealth-credits/internal/events"
	"github.com/Dan9191/telehealth-credits/internal/metrics"
	"github.com/Dan9191/telehealth-credits/internal/repository"
	"github.com/sirupsen/logrus"
)

// DefaultAppointmentCost is the credit price of one appointment.
const DefaultAppointmentCost int64 = 2

// Ledger owns all writes to balances and credit transactions.
type Ledger struct {
	store     repository.Store
	plans     *PlanResolver
	log       *logrus.Logger
	metrics   *metrics.Metrics
	publisher events.Publisher
	now       func() time.Time
	loc       *time.Location
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithPlans replaces the default plan resolver.
func WithPlans(r *PlanResolver) Option {
	return func(l *Ledger) { l.plans = r }
}

// WithMetrics records ledger activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithPublisher sends committed changes to p. Publish runs on the caller's
// goroutine after commit, so p must not block on remote delivery.
func WithPublisher(p events.Publisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLocation sets the zone that decides calendar month boundaries.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) { l.loc = loc }
}

// New creates a ledger over store.
func New(store repository.Store, log *logrus.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:     store,
		plans:     NewPlanResolver(),
		log:       log,
		publisher: events.Discard{},
		now:       time.Now,
		loc:       time.UTC,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Plans exposes the resolver used for allocations.
func (l *Ledger) Plans() *PlanResolver { return l.plans }

func (l *Ledger) publish(ctx context.Context, ev events.LedgerEvent) {
	if err := l.publisher.Publish(ctx, ev); err != nil {
		l.log.WithFields(logrus.Fields{
			"event":      ev.Type,
			"account_id": ev.AccountID,
			"error":      err,
		}).Warn("Failed to publish ledger event")
	}
}
