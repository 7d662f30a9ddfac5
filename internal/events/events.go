package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	TypeCreditsAllocated = "credits.allocated"
	TypeCreditsDeducted  = "credits.deducted"
)

// LedgerEvent describes a committed ledger change.
type LedgerEvent struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	AccountID      int64     `json:"account_id"`
	CounterpartyID int64     `json:"counterparty_id,omitempty"`
	Amount         int64     `json:"amount"`
	PlanTag        string    `json:"plan_tag,omitempty"`
	Balance        int64     `json:"balance"`
	Email          string    `json:"email,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// New stamps an event with a fresh id.
func New(eventType string, accountID int64, occurredAt time.Time) LedgerEvent {
	return LedgerEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		AccountID:  accountID,
		OccurredAt: occurredAt,
	}
}

// Publisher delivers ledger events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event LedgerEvent) error
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event LedgerEvent) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, LedgerEvent) error { return nil }
