package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dan9191/telehealth-credits/internal/models"
)

// InTx runs fn inside a database transaction. The transaction is rolled back
// when fn or the commit fails, and when ctx is cancelled before commit.
func (r *Repository) InTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = dbTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = dbTx.Rollback()
		}
	}()

	if err = fn(&sqlTx{tx: dbTx, dialect: r.dialect}); err != nil {
		return err
	}
	if err = dbTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type sqlTx struct {
	tx      *sql.Tx
	dialect Dialect
}

var _ Tx = (*sqlTx)(nil)

func (t *sqlTx) LockAccount(ctx context.Context, id int64) (*models.Account, error) {
	query := t.dialect.rebind(`SELECT ` + accountColumns + ` FROM accounts WHERE id = ? AND active = TRUE` + t.dialect.forUpdate())
	account, err := scanAccount(t.tx.QueryRowContext(ctx, query, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to lock account %d: %w", id, err)
	}
	return account, err
}

func (t *sqlTx) HasAllocation(ctx context.Context, accountID int64, planTag, period string) (bool, error) {
	var exists int
	err := t.tx.QueryRowContext(ctx, t.dialect.rebind(`
		SELECT 1 FROM credit_transactions
		WHERE account_id = ? AND kind = ? AND plan_tag = ? AND period = ? LIMIT 1`),
		accountID, string(models.KindAllocation), planTag, period).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check allocation: %w", err)
	}
	return true, nil
}

func (t *sqlTx) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	if txn.Amount == 0 {
		return ErrZeroAmount
	}
	txn.CreatedAt = stamp(txn.CreatedAt)
	err := t.tx.QueryRowContext(ctx, t.dialect.rebind(`
		INSERT INTO credit_transactions (account_id, amount, kind, plan_tag, period, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`),
		txn.AccountID, txn.Amount, string(txn.Kind), txn.PlanTag, txn.Period, txn.CreatedAt).Scan(&txn.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (t *sqlTx) AdjustCredits(ctx context.Context, accountID, delta int64) (int64, error) {
	var balance int64
	err := t.tx.QueryRowContext(ctx, t.dialect.rebind(`
		UPDATE accounts SET credits = credits + ?
		WHERE id = ? AND credits + ? >= 0
		RETURNING credits`), delta, accountID, delta).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) || isCheckViolation(err) {
		return 0, ErrInsufficientBalance
	}
	if err != nil {
		return 0, fmt.Errorf("failed to adjust credits: %w", err)
	}
	return balance, nil
}
