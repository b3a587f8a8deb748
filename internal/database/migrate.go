package database

import (
	"database/sql"
	"fmt"
)

// The (txid, address, symbol) unique key is the sole idempotency guard for
// deposit/withdraw re-notification; txid stays NULL until assigned so queued
// withdrawals never collide on it. The (address, symbol, extra) key keeps an
// address bound to a single account forever.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS transactions (
		id            BIGSERIAL PRIMARY KEY,
		tenant        TEXT NOT NULL DEFAULT '',
		category      TEXT NOT NULL,
		tags          TEXT NOT NULL DEFAULT '',
		account       TEXT NOT NULL,
		other_account TEXT,
		address       TEXT NOT NULL DEFAULT '',
		extra         TEXT NOT NULL DEFAULT '',
		txid          TEXT,
		symbol        TEXT NOT NULL,
		amount        NUMERIC(32,18) NOT NULL,
		fee           NUMERIC(32,18) NOT NULL DEFAULT 0,
		comment       TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		confirmations BIGINT NOT NULL DEFAULT 0,
		status        TEXT NOT NULL,
		retries       INTEGER NOT NULL DEFAULT 0,
		admin_confirm BOOLEAN NOT NULL DEFAULT FALSE,
		user_confirm  BOOLEAN NOT NULL DEFAULT FALSE,
		nonce         TEXT NOT NULL DEFAULT '',
		CONSTRAINT uq_transactions_txid_address_symbol UNIQUE (txid, address, symbol)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_account_symbol
		ON transactions (tenant, account, symbol)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_status
		ON transactions (tenant, status, category)`,
	`CREATE TABLE IF NOT EXISTS addresses (
		id         BIGSERIAL PRIMARY KEY,
		tenant     TEXT NOT NULL DEFAULT '',
		account    TEXT NOT NULL,
		symbol     TEXT NOT NULL,
		address    TEXT NOT NULL,
		extra      TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		status     TEXT NOT NULL DEFAULT 'CURRENT',
		CONSTRAINT uq_addresses_address_symbol_extra UNIQUE (address, symbol, extra)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_addresses_account
		ON addresses (tenant, account, symbol, status)`,
}

// Migrate applies the schema statements in order. Every statement is
// idempotent, so repeated startup runs are safe.
func Migrate(db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
