package repository

import (
	"context"
	"fmt"
)

func (d Dialect) migrations() []string {
	id := "BIGSERIAL PRIMARY KEY"
	ts := "TIMESTAMPTZ"
	if d == SQLite {
		id = "INTEGER PRIMARY KEY AUTOINCREMENT"
		ts = "TIMESTAMP"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id                  ` + id + `,
			email               TEXT NOT NULL UNIQUE,
			name                TEXT NOT NULL DEFAULT '',
			password_hash       TEXT NOT NULL DEFAULT '',
			role                TEXT NOT NULL DEFAULT 'UNASSIGNED',
			credits             BIGINT NOT NULL DEFAULT 0 CHECK (credits >= 0),
			plan                TEXT NOT NULL DEFAULT '',
			verification_status TEXT NOT NULL DEFAULT '',
			specialty           TEXT NOT NULL DEFAULT '',
			experience          INTEGER NOT NULL DEFAULT 0,
			credential_url      TEXT NOT NULL DEFAULT '',
			description         TEXT NOT NULL DEFAULT '',
			active              BOOLEAN NOT NULL DEFAULT TRUE,
			created_at          ` + ts + ` NOT NULL,
			updated_at          ` + ts + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_role_status ON accounts (role, verification_status)`,
		`CREATE TABLE IF NOT EXISTS credit_transactions (
			id          ` + id + `,
			account_id  BIGINT NOT NULL REFERENCES accounts(id),
			amount      BIGINT NOT NULL CHECK (amount <> 0),
			kind        TEXT NOT NULL,
			plan_tag    TEXT NOT NULL DEFAULT '',
			period      TEXT NOT NULL DEFAULT '',
			created_at  ` + ts + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_credit_transactions_account ON credit_transactions (account_id, created_at)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_credit_transactions_allocation
			ON credit_transactions (account_id, plan_tag, period) WHERE kind = 'ALLOCATION'`,
	}
}

// Migrate creates the schema if it does not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	for _, stmt := range r.dialect.migrations() {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}
	return nil
}
