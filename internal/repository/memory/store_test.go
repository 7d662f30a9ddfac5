package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dan9191/telehealth-credits/internal/models"
	"github.com/Dan9191/telehealth-credits/internal/repository"
)

func TestSeedRecordsOpeningBalance(t *testing.T) {
	s := NewStore()
	acc := s.Seed(models.Account{Email: "pat@example.com", Role: models.RolePatient, Credits: 6})

	sum, err := s.SumTransactions(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), sum)
	assert.True(t, acc.Active)
}

func TestInTxRollsBackOnError(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	acc := s.Seed(models.Account{Email: "pat@example.com", Role: models.RolePatient})

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx repository.Tx) error {
		if err := tx.InsertTransaction(ctx, &models.Transaction{AccountID: acc.ID, Amount: 5, Kind: models.KindCredit}); err != nil {
			return err
		}
		if _, err := tx.AdjustCredits(ctx, acc.ID, 5); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Credits)
	txs, err := s.RecentTransactions(ctx, acc.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestCommitHookAborts(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	acc := s.Seed(models.Account{Email: "pat@example.com"})
	s.CommitHook = func() error { return errors.New("lost connection") }

	err := s.InTx(ctx, func(tx repository.Tx) error {
		_, err := tx.AdjustCredits(ctx, acc.ID, 1)
		return err
	})
	require.Error(t, err)
	got, _ := s.GetAccount(ctx, acc.ID)
	assert.Zero(t, got.Credits)
}

func TestTxGuards(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	acc := s.Seed(models.Account{Email: "pat@example.com", Credits: 1})

	err := s.InTx(ctx, func(tx repository.Tx) error {
		_, err := tx.AdjustCredits(ctx, acc.ID, -2)
		return err
	})
	assert.ErrorIs(t, err, repository.ErrInsufficientBalance)

	alloc := func() *models.Transaction {
		return &models.Transaction{AccountID: acc.ID, Amount: 2, Kind: models.KindAllocation, PlanTag: "free_user", Period: "2026-10"}
	}
	require.NoError(t, s.InTx(ctx, func(tx repository.Tx) error { return tx.InsertTransaction(ctx, alloc()) }))
	err = s.InTx(ctx, func(tx repository.Tx) error { return tx.InsertTransaction(ctx, alloc()) })
	assert.ErrorIs(t, err, repository.ErrAlreadyExists)

	err = s.InTx(ctx, func(tx repository.Tx) error {
		return tx.InsertTransaction(ctx, &models.Transaction{AccountID: acc.ID, Kind: models.KindCredit})
	})
	assert.ErrorIs(t, err, repository.ErrZeroAmount)
}

func TestCreateAccountRejectsDuplicateEmail(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.CreateAccount(ctx, &models.Account{Email: "pat@example.com"}))
	assert.ErrorIs(t, s.CreateAccount(ctx, &models.Account{Email: " pat@example.com "}), repository.ErrAlreadyExists)
}

// Emails compare exactly, like the UNIQUE column in the SQL store.
func TestEmailMatchingIsCaseSensitive(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.CreateAccount(ctx, &models.Account{Email: "pat@example.com"}))
	require.NoError(t, s.CreateAccount(ctx, &models.Account{Email: "PAT@example.com"}))

	_, err := s.FindAccountByEmail(ctx, "Pat@Example.com")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	got, err := s.FindAccountByEmail(ctx, "PAT@example.com")
	require.NoError(t, err)
	assert.Equal(t, "PAT@example.com", got.Email)
}

func TestListTransactionsWindow(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	acc := s.Seed(models.Account{Email: "pat@example.com"})
	oct := time.Date(2026, time.October, 3, 0, 0, 0, 0, time.UTC)
	s.AddTransaction(models.Transaction{AccountID: acc.ID, Amount: 10, Kind: models.KindAllocation, CreatedAt: oct})
	s.AddTransaction(models.Transaction{AccountID: acc.ID, Amount: -2, Kind: models.KindDeduction, CreatedAt: oct.AddDate(0, 1, 0)})

	got, err := s.ListTransactions(ctx, acc.ID, oct.AddDate(0, 0, -2), oct.AddDate(0, 0, 28))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(10), got[0].Amount)

	before, err := s.SumTransactionsBefore(ctx, acc.ID, oct.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(10), before)
}
