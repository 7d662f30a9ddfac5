package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Dan9191/telehealth-credits/internal/models"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Ensure Repository satisfies the Store interface at compile time.
var _ Store = (*Repository)(nil)

// Repository provides database operations
type Repository struct {
	db      *sql.DB
	dialect Dialect
}

// NewRepository initializes a new repository
func NewRepository(db *sql.DB, dialect Dialect) *Repository {
	return &Repository{db: db, dialect: dialect}
}

// Open connects to the database named by driver and conn.
func Open(ctx context.Context, driver, conn string) (*Repository, error) {
	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, err
	}
	name := "postgres"
	if dialect == SQLite {
		name = "sqlite"
	}
	db, err := sql.Open(name, conn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialect == SQLite {
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to configure sqlite: %w", err)
			}
		}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewRepository(db, dialect), nil
}

// Close releases database resources.
func (r *Repository) Close() error {
	return r.db.Close()
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const accountColumns = `id, email, name, password_hash, role, credits, plan, verification_status,
	specialty, experience, credential_url, description, active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	a := &models.Account{}
	var role, status string
	err := row.Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &role, &a.Credits, &a.Plan, &status,
		&a.Specialty, &a.Experience, &a.CredentialURL, &a.Description, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Role = models.Role(role)
	a.VerificationStatus = models.VerificationStatus(status)
	return a, nil
}

func scanTransactions(rows *sql.Rows) ([]models.Transaction, error) {
	defer rows.Close()
	var out []models.Transaction
	for rows.Next() {
		var t models.Transaction
		var kind string
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Amount, &kind, &t.PlanTag, &t.Period, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Kind = models.TransactionKind(kind)
		out = append(out, t)
	}
	return out, rows.Err()
}

func stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// CreateAccount creates a new account in the database
func (r *Repository) CreateAccount(ctx context.Context, account *models.Account) error {
	now := stamp(time.Now())
	if account.Role == "" {
		account.Role = models.RoleUnassigned
	}
	query := r.dialect.rebind(`
		INSERT INTO accounts (email, name, password_hash, role, credits, plan, verification_status,
			specialty, experience, credential_url, description, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?, TRUE, ?, ?)
		RETURNING id`)
	err := r.db.QueryRowContext(ctx, query,
		strings.TrimSpace(account.Email), account.Name, account.PasswordHash, string(account.Role),
		account.Plan, string(account.VerificationStatus), account.Specialty, account.Experience,
		account.CredentialURL, account.Description, now, now).Scan(&account.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	account.Credits = 0
	account.Active = true
	account.CreatedAt = now
	account.UpdatedAt = now
	return nil
}

// GetAccount retrieves an account by id, active or not
func (r *Repository) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	query := r.dialect.rebind(`SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`)
	account, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return account, err
}

// FindAccountByEmail retrieves an account by email
func (r *Repository) FindAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := r.dialect.rebind(`SELECT ` + accountColumns + ` FROM accounts WHERE email = ?`)
	account, err := scanAccount(r.db.QueryRowContext(ctx, query, strings.TrimSpace(email)))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return account, err
}

func (r *Repository) listAccounts(ctx context.Context, query string, args ...any) ([]models.Account, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()
	var out []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ListAccountsWithPlan returns active accounts of a role that carry a plan claim.
func (r *Repository) ListAccountsWithPlan(ctx context.Context, role models.Role) ([]models.Account, error) {
	return r.listAccounts(ctx, `SELECT `+accountColumns+` FROM accounts
		WHERE role = ? AND active = TRUE AND plan <> '' ORDER BY id`, string(role))
}

// ListDoctors returns doctors in a verification state. Pending doctors come
// newest first, everything else by name.
func (r *Repository) ListDoctors(ctx context.Context, status models.VerificationStatus) ([]models.Account, error) {
	order := "name ASC, id ASC"
	if status == models.VerificationPending {
		order = "created_at DESC, id DESC"
	}
	return r.listAccounts(ctx, `SELECT `+accountColumns+` FROM accounts
		WHERE role = ? AND verification_status = ? ORDER BY `+order,
		string(models.RoleDoctor), string(status))
}

func (r *Repository) exec(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, r.dialect.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateProfile writes the onboarding fields of an account.
func (r *Repository) UpdateProfile(ctx context.Context, account *models.Account) error {
	return r.exec(ctx, "update profile", `
		UPDATE accounts SET role = ?, specialty = ?, experience = ?, credential_url = ?,
			description = ?, verification_status = ?, updated_at = ?
		WHERE id = ?`,
		string(account.Role), account.Specialty, account.Experience, account.CredentialURL,
		account.Description, string(account.VerificationStatus), stamp(time.Now()), account.ID)
}

// UpdatePlan records the latest subscription claim seen for an account.
func (r *Repository) UpdatePlan(ctx context.Context, id int64, plan string) error {
	return r.exec(ctx, "update plan",
		`UPDATE accounts SET plan = ?, updated_at = ? WHERE id = ?`, plan, stamp(time.Now()), id)
}

// UpdateVerificationStatus changes a doctor's verification state.
func (r *Repository) UpdateVerificationStatus(ctx context.Context, id int64, status models.VerificationStatus) error {
	return r.exec(ctx, "update verification status",
		`UPDATE accounts SET verification_status = ?, updated_at = ? WHERE id = ?`,
		string(status), stamp(time.Now()), id)
}

// SetActive activates or deactivates an account. Accounts are never deleted.
func (r *Repository) SetActive(ctx context.Context, id int64, active bool) error {
	return r.exec(ctx, "set active",
		`UPDATE accounts SET active = ?, updated_at = ? WHERE id = ?`, active, stamp(time.Now()), id)
}

const transactionColumns = `id, account_id, amount, kind, plan_tag, period, created_at`

// RecentTransactions returns up to limit transactions, most recent first.
func (r *Repository) RecentTransactions(ctx context.Context, accountID int64, limit int) ([]models.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.rebind(`SELECT `+transactionColumns+`
		FROM credit_transactions WHERE account_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`), accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return scanTransactions(rows)
}

// ListTransactions returns transactions in [from, to), oldest first.
func (r *Repository) ListTransactions(ctx context.Context, accountID int64, from, to time.Time) ([]models.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.rebind(`SELECT `+transactionColumns+`
		FROM credit_transactions WHERE account_id = ? AND created_at >= ? AND created_at < ?
		ORDER BY created_at ASC, id ASC`), accountID, stamp(from), stamp(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return scanTransactions(rows)
}

// SumTransactions totals every transaction of an account.
func (r *Repository) SumTransactions(ctx context.Context, accountID int64) (int64, error) {
	var sum int64
	err := r.db.QueryRowContext(ctx, r.dialect.rebind(
		`SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE account_id = ?`), accountID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return sum, nil
}

// SumTransactionsBefore totals transactions created strictly before a time.
func (r *Repository) SumTransactionsBefore(ctx context.Context, accountID int64, before time.Time) (int64, error) {
	var sum int64
	err := r.db.QueryRowContext(ctx, r.dialect.rebind(
		`SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE account_id = ? AND created_at < ?`),
		accountID, stamp(before)).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return sum, nil
}
