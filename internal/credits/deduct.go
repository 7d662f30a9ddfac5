package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dan9191/telehealth-credits/internal/events"
	"github.com/Dan9191/telehealth-credits/internal/models"
	"github.com/Dan9191/telehealth-credits/internal/repository"
	"github.com/sirupsen/logrus"
)

// DeductionResult reports the outcome of a credit transfer. On failure Err
// holds one of ErrNotFound, ErrInsufficientBalance, ErrTransactionAborted or
// ErrInvalidCost and no ledger rows were written.
type DeductionResult struct {
	Success  bool            `json:"success"`
	Account  *models.Account `json:"account,omitempty"`
	Provider *models.Account `json:"-"`
	Err      error           `json:"-"`
	Message  string          `json:"error,omitempty"`
}

func failed(err error) DeductionResult {
	return DeductionResult{Err: err, Message: err.Error()}
}

// Deduct moves cost credits from a patient to a doctor in one transaction:
// two DEDUCTION rows and two balance updates, committed together or not at all.
func (l *Ledger) Deduct(ctx context.Context, consumerID, providerID, cost int64) DeductionResult {
	fields := logrus.Fields{"consumer_id": consumerID, "provider_id": providerID, "amount": cost}
	if cost <= 0 {
		l.metrics.Deducted("invalid", cost)
		return failed(fmt.Errorf("%w: cost must be positive, got %d", ErrInvalidCost, cost))
	}
	if consumerID == providerID {
		l.metrics.Deducted("invalid", cost)
		return failed(fmt.Errorf("%w: patient and doctor must differ", ErrInvalidCost))
	}

	now := l.now()
	var consumer, provider *models.Account
	err := l.store.InTx(ctx, func(tx repository.Tx) error {
		// Lock in id order so opposite transfers cannot deadlock.
		first, second := consumerID, providerID
		if second < first {
			first, second = second, first
		}
		locked := make(map[int64]*models.Account, 2)
		for _, id := range []int64{first, second} {
			acc, err := tx.LockAccount(ctx, id)
			if errors.Is(err, repository.ErrNotFound) {
				role := "doctor"
				if id == consumerID {
					role = "patient"
				}
				return fmt.Errorf("%w: %s %d", ErrNotFound, role, id)
			}
			if err != nil {
				return err
			}
			locked[id] = acc
		}
		consumer, provider = locked[consumerID], locked[providerID]

		if consumer.Credits < cost {
			return fmt.Errorf("%w: balance %d, cost %d", ErrInsufficientBalance, consumer.Credits, cost)
		}

		debit := models.Transaction{AccountID: consumerID, Amount: -cost, Kind: models.KindDeduction, CreatedAt: now}
		if err := tx.InsertTransaction(ctx, &debit); err != nil {
			return err
		}
		credit := models.Transaction{AccountID: providerID, Amount: cost, Kind: models.KindDeduction, CreatedAt: now}
		if err := tx.InsertTransaction(ctx, &credit); err != nil {
			return err
		}

		balance, err := tx.AdjustCredits(ctx, consumerID, -cost)
		if err != nil {
			return err
		}
		consumer.Credits = balance
		consumer.Transactions = []models.Transaction{debit}

		balance, err = tx.AdjustCredits(ctx, providerID, cost)
		if err != nil {
			return err
		}
		provider.Credits = balance
		provider.Transactions = []models.Transaction{credit}
		return nil
	})
	if err != nil {
		err = classify(err)
		l.metrics.Deducted(resultLabel(err), cost)
		l.log.WithFields(fields).WithError(err).Warn("Credit deduction failed")
		return failed(err)
	}

	l.metrics.Deducted("success", cost)
	l.log.WithFields(fields).Info("Credits deducted for appointment")

	ev := events.New(events.TypeCreditsDeducted, consumerID, now)
	ev.CounterpartyID = providerID
	ev.Amount = cost
	ev.Balance = consumer.Credits
	ev.Email = consumer.Email
	l.publish(ctx, ev)

	return DeductionResult{Success: true, Account: consumer, Provider: provider}
}

func classify(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInsufficientBalance):
		return err
	case errors.Is(err, repository.ErrInsufficientBalance):
		return fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return fmt.Errorf("%w: %v", ErrTransactionAborted, err)
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	}
	return "aborted"
}
