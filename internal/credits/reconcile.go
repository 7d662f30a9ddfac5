package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dan9191/telehealth-credits/internal/repository"
	"github.com/sirupsen/logrus"
)

// Reconciliation compares a cached balance with its transaction history.
type Reconciliation struct {
	AccountID int64 `json:"account_id"`
	Balance   int64 `json:"balance"`
	LedgerSum int64 `json:"ledger_sum"`
	Drift     int64 `json:"drift"`
}

// Consistent reports whether the balance equals the ledger sum.
func (r Reconciliation) Consistent() bool { return r.Drift == 0 }

const reconcileAttempts = 3

// Reconcile checks that an account's balance equals the sum of its
// transactions. The balance is read before and after summing and the check is
// retried when a concurrent write moved it.
func (l *Ledger) Reconcile(ctx context.Context, accountID int64) (Reconciliation, error) {
	for attempt := 0; attempt < reconcileAttempts; attempt++ {
		before, err := l.store.GetAccount(ctx, accountID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return Reconciliation{}, fmt.Errorf("%w: %d", ErrNotFound, accountID)
			}
			return Reconciliation{}, err
		}
		sum, err := l.store.SumTransactions(ctx, accountID)
		if err != nil {
			return Reconciliation{}, err
		}
		after, err := l.store.GetAccount(ctx, accountID)
		if err != nil {
			return Reconciliation{}, err
		}
		if before.Credits != after.Credits {
			continue
		}
		rec := Reconciliation{
			AccountID: accountID,
			Balance:   after.Credits,
			LedgerSum: sum,
			Drift:     after.Credits - sum,
		}
		if !rec.Consistent() {
			l.log.WithFields(logrus.Fields{
				"account_id": accountID,
				"balance":    rec.Balance,
				"ledger_sum": rec.LedgerSum,
			}).Error("Ledger drift detected")
		}
		return rec, nil
	}
	return Reconciliation{}, fmt.Errorf("account %d kept changing during reconciliation", accountID)
}
