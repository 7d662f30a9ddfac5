// Package memory is an in-memory repository.Store. Transactions run against a
// private copy of the state and are swapped in on commit, so a failing
// transaction leaves nothing behind.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Dan9191/telehealth-credits/internal/models"
	"github.com/Dan9191/telehealth-credits/internal/repository"
)

var _ repository.Store = (*Store)(nil)

type state struct {
	accounts     map[int64]models.Account
	transactions []models.Transaction
	nextAccount  int64
	nextTx       int64
}

func (s *state) clone() *state {
	c := &state{
		accounts:     make(map[int64]models.Account, len(s.accounts)),
		transactions: make([]models.Transaction, len(s.transactions)),
		nextAccount:  s.nextAccount,
		nextTx:       s.nextTx,
	}
	for id, a := range s.accounts {
		c.accounts[id] = a
	}
	copy(c.transactions, s.transactions)
	return c
}

// Store keeps accounts and the transaction log in process memory.
type Store struct {
	// txMu serializes transactions and writes, standing in for row locks.
	// Every writer holds it so a commit never discards a concurrent write.
	txMu sync.Mutex
	mu   sync.RWMutex
	st   *state

	// CommitHook, when set, runs before a commit is applied. A non-nil
	// error aborts the transaction.
	CommitHook func() error
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{st: &state{accounts: make(map[int64]models.Account)}}
}

// Migrate is a no-op.
func (s *Store) Migrate(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// InTx runs fn against a snapshot and commits it if fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	work := s.st.clone()
	s.mu.RUnlock()

	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.CommitHook != nil {
		if err := s.CommitHook(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.st = work
	s.mu.Unlock()
	return nil
}

// Seed inserts an account with a starting balance, recording the balance as a
// CREDIT transaction so the ledger stays consistent.
func (s *Store) Seed(account models.Account) *models.Account {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.nextAccount++
	account.ID = s.st.nextAccount
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = account.CreatedAt
	account.Active = true
	if account.Role == "" {
		account.Role = models.RoleUnassigned
	}
	if account.Credits > 0 {
		s.st.nextTx++
		s.st.transactions = append(s.st.transactions, models.Transaction{
			ID:        s.st.nextTx,
			AccountID: account.ID,
			Amount:    account.Credits,
			Kind:      models.KindCredit,
			CreatedAt: account.CreatedAt,
		})
	}
	s.st.accounts[account.ID] = account
	out := account
	return &out
}

// AddTransaction appends a history row without any checks and without
// touching the balance. It lets tests backdate entries or introduce drift.
func (s *Store) AddTransaction(t models.Transaction) models.Transaction {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.nextTx++
	t.ID = s.st.nextTx
	s.st.transactions = append(s.st.transactions, t)
	return t
}

// CreateAccount creates a new account.
func (s *Store) CreateAccount(_ context.Context, account *models.Account) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.TrimSpace(account.Email)
	for _, a := range s.st.accounts {
		if a.Email == email {
			return repository.ErrAlreadyExists
		}
	}
	now := time.Now().UTC()
	s.st.nextAccount++
	account.ID = s.st.nextAccount
	account.Email = email
	account.Credits = 0
	account.Active = true
	if account.Role == "" {
		account.Role = models.RoleUnassigned
	}
	account.CreatedAt = now
	account.UpdatedAt = now
	stored := *account
	stored.Transactions = nil
	s.st.accounts[account.ID] = stored
	return nil
}

// GetAccount retrieves an account by id.
func (s *Store) GetAccount(_ context.Context, id int64) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.st.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

// FindAccountByEmail retrieves an account by email.
func (s *Store) FindAccountByEmail(_ context.Context, email string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email = strings.TrimSpace(email)
	for _, a := range s.st.accounts {
		if a.Email == email {
			return &a, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) filter(keep func(models.Account) bool) []models.Account {
	var out []models.Account
	for _, a := range s.st.accounts {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}

// ListAccountsWithPlan returns active accounts of a role that carry a plan.
func (s *Store) ListAccountsWithPlan(_ context.Context, role models.Role) ([]models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.filter(func(a models.Account) bool {
		return a.Role == role && a.Active && a.Plan != ""
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListDoctors returns doctors in a verification state.
func (s *Store) ListDoctors(_ context.Context, status models.VerificationStatus) ([]models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.filter(func(a models.Account) bool {
		return a.Role == models.RoleDoctor && a.VerificationStatus == status
	})
	if status == models.VerificationPending {
		sort.Slice(out, func(i, j int) bool {
			if out[i].CreatedAt.Equal(out[j].CreatedAt) {
				return out[i].ID > out[j].ID
			}
			return out[i].CreatedAt.After(out[j].CreatedAt)
		})
	} else {
		sort.Slice(out, func(i, j int) bool {
			if out[i].Name == out[j].Name {
				return out[i].ID < out[j].ID
			}
			return out[i].Name < out[j].Name
		})
	}
	return out, nil
}

func (s *Store) update(id int64, mutate func(*models.Account)) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.st.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	mutate(&a)
	a.UpdatedAt = time.Now().UTC()
	s.st.accounts[id] = a
	return nil
}

// UpdateProfile writes the onboarding fields of an account.
func (s *Store) UpdateProfile(_ context.Context, account *models.Account) error {
	return s.update(account.ID, func(a *models.Account) {
		a.Role = account.Role
		a.Specialty = account.Specialty
		a.Experience = account.Experience
		a.CredentialURL = account.CredentialURL
		a.Description = account.Description
		a.VerificationStatus = account.VerificationStatus
	})
}

// UpdatePlan records the latest subscription claim.
func (s *Store) UpdatePlan(_ context.Context, id int64, plan string) error {
	return s.update(id, func(a *models.Account) { a.Plan = plan })
}

// UpdateVerificationStatus changes a doctor's verification state.
func (s *Store) UpdateVerificationStatus(_ context.Context, id int64, status models.VerificationStatus) error {
	return s.update(id, func(a *models.Account) { a.VerificationStatus = status })
}

// SetActive activates or deactivates an account.
func (s *Store) SetActive(_ context.Context, id int64, active bool) error {
	return s.update(id, func(a *models.Account) { a.Active = active })
}

func (s *Store) transactionsOf(accountID int64) []models.Transaction {
	var out []models.Transaction
	for _, t := range s.st.transactions {
		if t.AccountID == accountID {
			out = append(out, t)
		}
	}
	return out
}

// RecentTransactions returns up to limit transactions, most recent first.
func (s *Store) RecentTransactions(_ context.Context, accountID int64, limit int) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.transactionsOf(accountID)
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListTransactions returns transactions in [from, to), oldest first.
func (s *Store) ListTransactions(_ context.Context, accountID int64, from, to time.Time) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Transaction
	for _, t := range s.transactionsOf(accountID) {
		if !t.CreatedAt.Before(from) && t.CreatedAt.Before(to) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// SumTransactions totals every transaction of an account.
func (s *Store) SumTransactions(_ context.Context, accountID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum int64
	for _, t := range s.transactionsOf(accountID) {
		sum += t.Amount
	}
	return sum, nil
}

// SumTransactionsBefore totals transactions created before a time.
func (s *Store) SumTransactionsBefore(_ context.Context, accountID int64, before time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum int64
	for _, t := range s.transactionsOf(accountID) {
		if t.CreatedAt.Before(before) {
			sum += t.Amount
		}
	}
	return sum, nil
}

type memTx struct {
	st *state
}

func (t *memTx) LockAccount(_ context.Context, id int64) (*models.Account, error) {
	a, ok := t.st.accounts[id]
	if !ok || !a.Active {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (t *memTx) HasAllocation(_ context.Context, accountID int64, planTag, period string) (bool, error) {
	for _, txn := range t.st.transactions {
		if txn.AccountID == accountID && txn.Kind == models.KindAllocation &&
			txn.PlanTag == planTag && txn.Period == period {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	if txn.Amount == 0 {
		return repository.ErrZeroAmount
	}
	if _, ok := t.st.accounts[txn.AccountID]; !ok {
		return repository.ErrNotFound
	}
	if txn.Kind == models.KindAllocation {
		dup, _ := t.HasAllocation(ctx, txn.AccountID, txn.PlanTag, txn.Period)
		if dup {
			return repository.ErrAlreadyExists
		}
	}
	t.st.nextTx++
	txn.ID = t.st.nextTx
	txn.CreatedAt = txn.CreatedAt.UTC()
	t.st.transactions = append(t.st.transactions, *txn)
	return nil
}

func (t *memTx) AdjustCredits(_ context.Context, accountID, delta int64) (int64, error) {
	a, ok := t.st.accounts[accountID]
	if !ok || a.Credits+delta < 0 {
		return 0, repository.ErrInsufficientBalance
	}
	a.Credits += delta
	t.st.accounts[accountID] = a
	return a.Credits, nil
}
