package credits

import (
	"context"
	"errors"

	"github.com/Dan9191/telehealth-credits/internal/events"
	"github.com/Dan9191/telehealth-credits/internal/models"
	"github.com/Dan9191/telehealth-credits/internal/repository"
	"github.com/sirupsen/logrus"
)

// AllocationStatus says what AllocateIfDue did.
type AllocationStatus string

const (
	StatusAllocated        AllocationStatus = "ALLOCATED"
	StatusNotConsumer      AllocationStatus = "NOT_CONSUMER"
	StatusNoEntitlement    AllocationStatus = "NO_ENTITLEMENT"
	StatusAlreadyAllocated AllocationStatus = "ALREADY_ALLOCATED"
	StatusNoAccount        AllocationStatus = "NO_ACCOUNT"
	StatusFailed           AllocationStatus = "FAILED"
)

// AllocationResult carries the account after an allocation check. Unless
// Status is StatusAllocated the account is returned exactly as passed in.
type AllocationResult struct {
	Account *models.Account  `json:"account,omitempty"`
	Status  AllocationStatus `json:"status"`
	Plan    string           `json:"plan,omitempty"`
	Amount  int64            `json:"amount,omitempty"`
}

// Allocated reports whether credits were granted.
func (r AllocationResult) Allocated() bool { return r.Status == StatusAllocated }

var errRoleChanged = errors.New("account is no longer a patient")

// AllocateIfDue grants the monthly entitlement named by claim, at most once
// per account, plan and calendar month. Failures are logged and reported
// through the result status; they never reach the caller as errors.
func (l *Ledger) AllocateIfDue(ctx context.Context, account *models.Account, claim string) AllocationResult {
	if account == nil {
		return AllocationResult{Status: StatusNoAccount}
	}
	skip := func(status AllocationStatus) AllocationResult {
		l.metrics.AllocationSkipped(string(status))
		return AllocationResult{Account: account, Status: status}
	}
	if account.Role != models.RolePatient {
		return skip(StatusNotConsumer)
	}
	ent, ok := l.plans.Resolve(claim)
	if !ok {
		return skip(StatusNoEntitlement)
	}

	now := l.now()
	period := models.PeriodOf(now.In(l.loc))
	fields := logrus.Fields{"account_id": account.ID, "plan": ent.Tag, "period": period}

	var (
		updated *models.Account
		txn     models.Transaction
		already bool
	)
	err := l.store.InTx(ctx, func(tx repository.Tx) error {
		locked, err := tx.LockAccount(ctx, account.ID)
		if err != nil {
			return err
		}
		if locked.Role != models.RolePatient {
			return errRoleChanged
		}
		has, err := tx.HasAllocation(ctx, locked.ID, ent.Tag, period)
		if err != nil {
			return err
		}
		if has {
			already = true
			return nil
		}
		txn = models.Transaction{
			AccountID: locked.ID,
			Amount:    ent.Credits,
			Kind:      models.KindAllocation,
			PlanTag:   ent.Tag,
			Period:    period,
			CreatedAt: now,
		}
		if err := tx.InsertTransaction(ctx, &txn); err != nil {
			return err
		}
		balance, err := tx.AdjustCredits(ctx, locked.ID, ent.Credits)
		if err != nil {
			return err
		}
		locked.Credits = balance
		updated = locked
		return nil
	})

	switch {
	case err == nil && already:
		return skip(StatusAlreadyAllocated)
	case errors.Is(err, repository.ErrAlreadyExists):
		// A concurrent allocation committed first.
		return skip(StatusAlreadyAllocated)
	case errors.Is(err, errRoleChanged):
		return skip(StatusNotConsumer)
	case errors.Is(err, repository.ErrNotFound):
		l.log.WithFields(fields).Warn("Allocation skipped: account missing or deactivated")
		return skip(StatusNoAccount)
	case err != nil:
		l.log.WithFields(fields).WithError(err).Error("Failed to allocate credits")
		return skip(StatusFailed)
	}

	updated.Transactions = append([]models.Transaction{txn}, account.Transactions...)
	l.metrics.Allocated(ent.Tag, ent.Credits)
	l.log.WithFields(fields).WithField("amount", ent.Credits).Info("Credits allocated")

	ev := events.New(events.TypeCreditsAllocated, updated.ID, now)
	ev.Amount = ent.Credits
	ev.PlanTag = ent.Tag
	ev.Balance = updated.Credits
	ev.Email = updated.Email
	l.publish(ctx, ev)

	return AllocationResult{Account: updated, Status: StatusAllocated, Plan: ent.Tag, Amount: ent.Credits}
}

// SweepSummary counts the outcomes of AllocateAll.
type SweepSummary struct {
	Checked   int `json:"checked"`
	Allocated int `json:"allocated"`
	Failed    int `json:"failed"`
}

// AllocateAll runs AllocateIfDue for every active patient with a stored plan
// claim. Only a failure to list accounts is returned as an error.
func (l *Ledger) AllocateAll(ctx context.Context) (SweepSummary, error) {
	var sum SweepSummary
	accounts, err := l.store.ListAccountsWithPlan(ctx, models.RolePatient)
	if err != nil {
		return sum, err
	}
	for i := range accounts {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		acc := &accounts[i]
		res := l.AllocateIfDue(ctx, acc, acc.Plan)
		sum.Checked++
		switch res.Status {
		case StatusAllocated:
			sum.Allocated++
		case StatusFailed:
			sum.Failed++
		}
	}
	l.log.WithFields(logrus.Fields{
		"checked":   sum.Checked,
		"allocated": sum.Allocated,
		"failed":    sum.Failed,
	}).Info("Allocation sweep finished")
	return sum, nil
}
