// Package metrics holds the prometheus counters for ledger activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the ledger counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	Allocations      *prometheus.CounterVec
	AllocationSkips  *prometheus.CounterVec
	Deductions       *prometheus.CounterVec
	CreditsAllocated prometheus.Counter
	CreditsMoved     prometheus.Counter
}

// New registers the ledger counters with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Allocations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "telehealth_credit_allocations_total",
			Help: "Monthly plan allocations committed, by plan.",
		}, []string{"plan"}),
		AllocationSkips: f.NewCounterVec(prometheus.CounterOpts{
			Name: "telehealth_credit_allocation_skips_total",
			Help: "Allocation checks that granted nothing, by reason.",
		}, []string{"reason"}),
		Deductions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "telehealth_credit_deductions_total",
			Help: "Appointment deductions attempted, by result.",
		}, []string{"result"}),
		CreditsAllocated: f.NewCounter(prometheus.CounterOpts{
			Name: "telehealth_credits_allocated_total",
			Help: "Credits granted through plan allocations.",
		}),
		CreditsMoved: f.NewCounter(prometheus.CounterOpts{
			Name: "telehealth_credits_transferred_total",
			Help: "Credits moved from patients to doctors.",
		}),
	}
}

// Allocated records a committed allocation.
func (m *Metrics) Allocated(plan string, amount int64) {
	if m == nil {
		return
	}
	m.Allocations.WithLabelValues(plan).Inc()
	m.CreditsAllocated.Add(float64(amount))
}

// AllocationSkipped records an allocation check that granted nothing.
func (m *Metrics) AllocationSkipped(reason string) {
	if m == nil {
		return
	}
	m.AllocationSkips.WithLabelValues(reason).Inc()
}

// Deducted records a deduction attempt.
func (m *Metrics) Deducted(result string, amount int64) {
	if m == nil {
		return
	}
	m.Deductions.WithLabelValues(result).Inc()
	if result == "success" {
		m.CreditsMoved.Add(float64(amount))
	}
}
