package models

import "time"

// TransactionKind is the business reason for a balance change.
type TransactionKind string

const (
	KindAllocation TransactionKind = "ALLOCATION"
	KindDeduction  TransactionKind = "DEDUCTION"
	KindCredit     TransactionKind = "CREDIT"
)

// Transaction is an immutable ledger row
type Transaction struct {
	ID        int64           `json:"id"`
	AccountID int64           `json:"account_id"`
	Amount    int64           `json:"amount"`
	Kind      TransactionKind `json:"kind"`
	PlanTag   string          `json:"plan_tag,omitempty"`
	Period    string          `json:"period,omitempty"` // YYYY-MM, set for allocations
	CreatedAt time.Time       `json:"created_at"`
}

// PeriodOf formats the calendar month used for allocation idempotence.
func PeriodOf(t time.Time) string {
	return t.Format("2006-01")
}
