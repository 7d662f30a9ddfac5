package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Dan9191/telehealth-credits/internal/models"
)

var (
	// ErrNotFound indicates a record does not exist or is deactivated.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a uniqueness conflict.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrInsufficientBalance indicates a balance change would go below zero.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrZeroAmount rejects ledger rows that change nothing.
	ErrZeroAmount = errors.New("transaction amount must not be zero")
)

// Tx is the set of ledger operations available inside one atomic unit.
type Tx interface {
	// LockAccount reads an active account and holds its row until the
	// transaction ends.
	LockAccount(ctx context.Context, id int64) (*models.Account, error)
	HasAllocation(ctx context.Context, accountID int64, planTag, period string) (bool, error)
	InsertTransaction(ctx context.Context, t *models.Transaction) error
	// AdjustCredits adds delta to the balance and returns the new balance.
	// It fails with ErrInsufficientBalance rather than going negative.
	AdjustCredits(ctx context.Context, accountID, delta int64) (int64, error)
}

// Store captures persistence operations used by the services.
type Store interface {
	// InTx runs fn in a single transaction. Any error rolls back every write.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Migrate(ctx context.Context) error

	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccount(ctx context.Context, id int64) (*models.Account, error)
	FindAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	ListAccountsWithPlan(ctx context.Context, role models.Role) ([]models.Account, error)
	ListDoctors(ctx context.Context, status models.VerificationStatus) ([]models.Account, error)

	UpdateProfile(ctx context.Context, account *models.Account) error
	UpdatePlan(ctx context.Context, id int64, plan string) error
	UpdateVerificationStatus(ctx context.Context, id int64, status models.VerificationStatus) error
	SetActive(ctx context.Context, id int64, active bool) error

	RecentTransactions(ctx context.Context, accountID int64, limit int) ([]models.Transaction, error)
	ListTransactions(ctx context.Context, accountID int64, from, to time.Time) ([]models.Transaction, error)
	SumTransactions(ctx context.Context, accountID int64) (int64, error)
	SumTransactionsBefore(ctx context.Context, accountID int64, before time.Time) (int64, error)

	Close() error
}
