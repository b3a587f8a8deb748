package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coinvault/backend/internal/models"
	"github.com/shopspring/decimal"
)

// BalanceMode selects how a balance is aggregated.
type BalanceMode int

const (
	// BalanceConfirmed sums settled rows only: amount minus fee for credits,
	// amount for debits (debit amounts are already fee-inclusive).
	BalanceConfirmed BalanceMode = iota
	// BalanceAvailable additionally subtracts unsettled debits, so money
	// earmarked for an outgoing transaction is unavailable before it settles.
	BalanceAvailable
)

// querier abstracts *sql.DB and *sql.Tx so store methods can run standalone
// or inside a settlement batch transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TransactionFilter narrows FindTransactions results.
type TransactionFilter struct {
	Tenant   string
	Account  string
	Category string
	Symbol   string
	Status   string
	Limit    int
	Offset   int
}

const txColumns = `id, tenant, category, tags, account, COALESCE(other_account, ''), address, extra,
	COALESCE(txid, ''), symbol, amount, fee, comment, created_at, updated_at,
	confirmations, status, retries, admin_confirm, user_confirm, nonce`

// LedgerStore owns the transactions and addresses tables. No other component
// mutates them directly.
type LedgerStore struct {
	db *sql.DB
}

func NewLedgerStore(db *sql.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// Begin starts a store-level transaction for batched settlement work.
func (s *LedgerStore) Begin(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// InsertTransaction writes a ledger row. A duplicate (txid, address, symbol)
// key is translated into an update of the mutable fields instead of a
// uniqueness error, which makes replayed notifications safe.
func (s *LedgerStore) InsertTransaction(ctx context.Context, t *models.Transaction) error {
	return s.insertTransaction(ctx, s.db, t)
}

// InsertTransactionTx is InsertTransaction inside an existing transaction.
func (s *LedgerStore) InsertTransactionTx(ctx context.Context, tx *sql.Tx, t *models.Transaction) error {
	return s.insertTransaction(ctx, tx, t)
}

func (s *LedgerStore) insertTransaction(ctx context.Context, q querier, t *models.Transaction) error {
	err := q.QueryRowContext(ctx, `
		INSERT INTO transactions
		(tenant, category, tags, account, other_account, address, extra, txid, symbol,
		 amount, fee, comment, created_at, updated_at, confirmations, status, retries,
		 admin_confirm, user_confirm, nonce)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, NULLIF($8, ''), $9,
		        $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (txid, address, symbol) DO UPDATE
		SET updated_at = EXCLUDED.updated_at,
		    confirmations = EXCLUDED.confirmations,
		    status = EXCLUDED.status
		RETURNING id`,
		t.Tenant, t.Category, t.Tags, t.Account, t.OtherAccount, t.Address, t.Extra,
		t.TxID, t.Symbol, t.Amount, t.Fee, t.Comment, t.CreatedAt, t.UpdatedAt,
		t.Confirmations, t.Status, t.Retries, t.AdminConfirm, t.UserConfirm, t.Nonce,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// UpdateDeposit refreshes the mutable fields of an existing deposit row,
// matched by its (txid, address, symbol) idempotency key.
func (s *LedgerStore) UpdateDeposit(ctx context.Context, txid, address, symbol string, confirmations int64, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET confirmations = $1, status = $2, updated_at = $3
		WHERE txid = $4 AND address = $5 AND symbol = $6`,
		confirmations, status, time.Now().UTC(), txid, address, symbol)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return models.ErrNotFound
	}
	return nil
}

// GetTransaction fetches a row by id within a tenant.
func (s *LedgerStore) GetTransaction(ctx context.Context, tenant string, id int64) (*models.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE tenant = $1 AND id = $2`, tenant, id)
	return scanTransaction(row)
}

// GetTransactionByTxID fetches a row by its txid within a tenant.
func (s *LedgerStore) GetTransactionByTxID(ctx context.Context, tenant, txid string) (*models.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE tenant = $1 AND txid = $2`, tenant, txid)
	return scanTransaction(row)
}

// FindTransactions lists rows matching the filter, newest first.
func (s *LedgerStore) FindTransactions(ctx context.Context, filter TransactionFilter) ([]models.Transaction, error) {
	conditions := []string{"tenant = $1"}
	args := []any{filter.Tenant}
	argIndex := 2

	if filter.Account != "" {
		conditions = append(conditions, fmt.Sprintf("account = $%d", argIndex))
		args = append(args, filter.Account)
		argIndex++
	}
	if filter.Category != "" {
		conditions = append(conditions, fmt.Sprintf("category = $%d", argIndex))
		args = append(args, filter.Category)
		argIndex++
	}
	if filter.Symbol != "" {
		conditions = append(conditions, fmt.Sprintf("symbol = $%d", argIndex))
		args = append(args, filter.Symbol)
		argIndex++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, filter.Status)
		argIndex++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + txColumns + ` FROM transactions WHERE ` + strings.Join(conditions, " AND ") +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		t, err := scanTransactionRows(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *t)
	}
	return transactions, rows.Err()
}

// Balance aggregates an account's balance for one symbol.
func (s *LedgerStore) Balance(ctx context.Context, tenant, account, symbol string, mode BalanceMode) (decimal.Decimal, error) {
	return s.balance(ctx, s.db, tenant, account, symbol, mode)
}

// BalanceTx is Balance inside an existing transaction, so a settlement batch
// can pair the balance check with the status mutation atomically.
func (s *LedgerStore) BalanceTx(ctx context.Context, tx *sql.Tx, tenant, account, symbol string, mode BalanceMode) (decimal.Decimal, error) {
	return s.balance(ctx, tx, tenant, account, symbol, mode)
}

func (s *LedgerStore) balance(ctx context.Context, q querier, tenant, account, symbol string, mode BalanceMode) (decimal.Decimal, error) {
	var query string
	switch mode {
	case BalanceAvailable:
		query = `
		SELECT COALESCE(SUM(CASE
			WHEN status = 'DONE' AND amount >= 0 THEN amount - fee
			WHEN status = 'DONE' THEN amount
			WHEN status IN ('UNCONFIRMED', 'PENDING') AND amount < 0 THEN amount
			ELSE 0 END), 0)
		FROM transactions
		WHERE tenant = $1 AND account = $2 AND symbol = $3`
	default:
		query = `
		SELECT COALESCE(SUM(CASE WHEN amount >= 0 THEN amount - fee ELSE amount END), 0)
		FROM transactions
		WHERE tenant = $1 AND account = $2 AND symbol = $3 AND status = 'DONE'`
	}

	var balance decimal.Decimal
	if err := q.QueryRowContext(ctx, query, tenant, account, symbol).Scan(&balance); err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// UpsertAddress records a deposit address for an account. Re-inserting the
// same (address, symbol, extra) key is a no-op refresh; an address already
// bound to a different account is never reassigned.
func (s *LedgerStore) UpsertAddress(ctx context.Context, addr *models.Address) error {
	if addr.Status == "" {
		addr.Status = models.AddressCurrent
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO addresses (tenant, account, symbol, address, extra, created_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (address, symbol, extra) DO UPDATE
		SET status = EXCLUDED.status
		WHERE addresses.account = EXCLUDED.account
		RETURNING id`,
		addr.Tenant, addr.Account, addr.Symbol, addr.Address, addr.Extra, addr.CreatedAt, addr.Status,
	).Scan(&addr.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("address %s/%s already assigned to another account", addr.Symbol, addr.Address)
	}
	return err
}

// CurrentAddress returns the account's current deposit address for symbol,
// or ErrAddressNotFound when none has been issued yet.
func (s *LedgerStore) CurrentAddress(ctx context.Context, tenant, account, symbol string) (*models.Address, error) {
	addr := &models.Address{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant, account, symbol, address, extra, created_at, status
		FROM addresses
		WHERE tenant = $1 AND account = $2 AND symbol = $3 AND status = $4
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		tenant, account, symbol, models.AddressCurrent,
	).Scan(&addr.ID, &addr.Tenant, &addr.Account, &addr.Symbol, &addr.Address,
		&addr.Extra, &addr.CreatedAt, &addr.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrAddressNotFound
	}
	if err != nil {
		return nil, err
	}
	return addr, nil
}

// DemoteAddresses retires the account's current addresses for symbol. Old
// rows stay resolvable for incoming funds.
func (s *LedgerStore) DemoteAddresses(ctx context.Context, tenant, account, symbol string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE addresses SET status = $1
		WHERE tenant = $2 AND account = $3 AND symbol = $4 AND status = $5`,
		models.AddressOld, tenant, account, symbol, models.AddressCurrent)
	return err
}

// LookupAccountForAddress attributes an incoming deposit to the account that
// owns (symbol, address, extra). Old addresses still resolve.
func (s *LedgerStore) LookupAccountForAddress(ctx context.Context, symbol, address, extra string) (tenant, account string, err error) {
	return s.lookupAccountForAddress(ctx, s.db, symbol, address, extra)
}

// LookupAccountForAddressTx is LookupAccountForAddress inside an existing
// transaction.
func (s *LedgerStore) LookupAccountForAddressTx(ctx context.Context, tx *sql.Tx, symbol, address, extra string) (tenant, account string, err error) {
	return s.lookupAccountForAddress(ctx, tx, symbol, address, extra)
}

func (s *LedgerStore) lookupAccountForAddress(ctx context.Context, q querier, symbol, address, extra string) (string, string, error) {
	var tenant, account string
	err := q.QueryRowContext(ctx, `
		SELECT tenant, account FROM addresses
		WHERE symbol = $1 AND address = $2 AND extra = $3
		LIMIT 1`,
		symbol, address, extra,
	).Scan(&tenant, &account)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", models.ErrAddressNotFound
	}
	if err != nil {
		return "", "", err
	}
	return tenant, account, nil
}

// ConsumeNonce marks a user confirmation by burning the single-use nonce.
// A nonce that was already cleared yields ErrAlreadyConfirmed.
func (s *LedgerStore) ConsumeNonce(ctx context.Context, tenant string, id int64, nonce string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET user_confirm = TRUE, nonce = '', updated_at = $1
		WHERE tenant = $2 AND id = $3 AND nonce = $4 AND nonce <> ''`,
		time.Now().UTC(), tenant, id, nonce)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return models.ErrAlreadyConfirmed
	}
	return nil
}

// SetAdminConfirm records the admin approval signal.
func (s *LedgerStore) SetAdminConfirm(ctx context.Context, tenant string, id int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET admin_confirm = TRUE, updated_at = $1
		WHERE tenant = $2 AND id = $3`,
		time.Now().UTC(), tenant, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return models.ErrNotFound
	}
	return nil
}

// PromoteGroup moves a confirmed transaction (and, for a move, its sibling
// leg) from UNCONFIRMED to PENDING. The single UPDATE keeps the pair
// transition atomic.
func (s *LedgerStore) PromoteGroup(ctx context.Context, tenant string, t *models.Transaction) error {
	now := time.Now().UTC()
	if prefix := t.MovePrefix(); prefix != "" {
		_, err := s.db.ExecContext(ctx, `
			UPDATE transactions SET status = $1, updated_at = $2
			WHERE tenant = $3 AND status = $4
			  AND txid IN ($5, $6)`,
			models.StatusPending, now, tenant, models.StatusUnconfirmed,
			prefix+models.MoveSendSuffix, prefix+models.MoveReceiveSuffix)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET status = $1, updated_at = $2
		WHERE tenant = $3 AND id = $4 AND status = $5`,
		models.StatusPending, now, tenant, t.ID, models.StatusUnconfirmed)
	return err
}

// CancelGroup cancels a transaction (both legs for a move).
func (s *LedgerStore) CancelGroup(ctx context.Context, tenant string, t *models.Transaction) error {
	now := time.Now().UTC()
	if prefix := t.MovePrefix(); prefix != "" {
		_, err := s.db.ExecContext(ctx, `
			UPDATE transactions SET status = $1, updated_at = $2
			WHERE tenant = $3 AND txid IN ($4, $5)`,
			models.StatusCancelled, now, tenant,
			prefix+models.MoveSendSuffix, prefix+models.MoveReceiveSuffix)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET status = $1, updated_at = $2
		WHERE tenant = $3 AND id = $4`,
		models.StatusCancelled, now, tenant, t.ID)
	return err
}

// PendingTenants lists tenants that currently have settleable work.
func (s *LedgerStore) PendingTenants(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT tenant FROM transactions
		WHERE status = $1 AND category IN ($2, $3)`,
		models.StatusPending, models.CategoryWithdraw, models.CategoryMove)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tenants := []string{}
	for rows.Next() {
		var tenant string
		if err := rows.Scan(&tenant); err != nil {
			return nil, err
		}
		tenants = append(tenants, tenant)
	}
	return tenants, rows.Err()
}

// FailStale marks pending withdraw/move rows with an exhausted retry budget
// as FAILED and returns them, so the caller can notify exactly once per row.
func (s *LedgerStore) FailStale(ctx context.Context, tenant string) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE transactions SET status = $1, updated_at = $2
		WHERE tenant = $3 AND status = $4 AND category IN ($5, $6) AND retries < 1
		RETURNING `+txColumns,
		models.StatusFailed, time.Now().UTC(), tenant, models.StatusPending,
		models.CategoryWithdraw, models.CategoryMove)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	failed := []models.Transaction{}
	for rows.Next() {
		t, err := scanTransactionRows(rows)
		if err != nil {
			return nil, err
		}
		failed = append(failed, *t)
	}
	return failed, rows.Err()
}

// PendingMoveSendsTx locks and returns the oldest pending send legs with
// retries left, up to limit.
func (s *LedgerStore) PendingMoveSendsTx(ctx context.Context, tx *sql.Tx, tenant string, limit int) ([]models.Transaction, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE tenant = $1 AND status = $2 AND category = $3 AND amount < 0 AND retries > 0
		ORDER BY created_at ASC, id ASC
		LIMIT $4
		FOR UPDATE`,
		tenant, models.StatusPending, models.CategoryMove, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sends := []models.Transaction{}
	for rows.Next() {
		t, err := scanTransactionRows(rows)
		if err != nil {
			return nil, err
		}
		sends = append(sends, *t)
	}
	return sends, rows.Err()
}

// SettleMoveTx marks both legs of a move DONE and decrements the send leg's
// retry counter in the same statement.
func (s *LedgerStore) SettleMoveTx(ctx context.Context, tx *sql.Tx, tenant, prefix string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET status = $1, retries = GREATEST(retries - 1, 0), updated_at = $2
		WHERE tenant = $3 AND status = $4 AND txid IN ($5, $6)`,
		models.StatusDone, time.Now().UTC(), tenant, models.StatusPending,
		prefix+models.MoveSendSuffix, prefix+models.MoveReceiveSuffix)
	return err
}

// DecrementMoveRetriesTx burns one retry on both legs of a move that could
// not settle this pass.
func (s *LedgerStore) DecrementMoveRetriesTx(ctx context.Context, tx *sql.Tx, tenant, prefix string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET retries = retries - 1, updated_at = $1
		WHERE tenant = $2 AND status = $3 AND txid IN ($4, $5)`,
		time.Now().UTC(), tenant, models.StatusPending,
		prefix+models.MoveSendSuffix, prefix+models.MoveReceiveSuffix)
	return err
}

// NextPendingWithdrawalTx locks and returns the oldest pending withdrawal
// for symbol not yet claimed by a concurrent pass, or ErrNotFound.
func (s *LedgerStore) NextPendingWithdrawalTx(ctx context.Context, tx *sql.Tx, tenant, symbol string) (*models.Transaction, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE tenant = $1 AND status = $2 AND category = $3 AND symbol = $4 AND retries > 0
		ORDER BY created_at ASC, id ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`,
		tenant, models.StatusPending, models.CategoryWithdraw, symbol)
	return scanTransaction(row)
}

// MarkWithdrawalExecutingTx optimistically commits the withdrawal as DONE
// before the adapter call, so a crash mid-send can never re-pay it.
func (s *LedgerStore) MarkWithdrawalExecutingTx(ctx context.Context, tx *sql.Tx, id int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET status = $1, retries = retries - 1, updated_at = $2
		WHERE id = $3`,
		models.StatusDone, time.Now().UTC(), id)
	return err
}

// FailWithdrawalTx terminally fails a locked withdrawal row inside the
// settlement transaction, e.g. for an invalid destination.
func (s *LedgerStore) FailWithdrawalTx(ctx context.Context, tx *sql.Tx, id int64, reason string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE transactions SET status = $1, comment = $2, updated_at = $3 WHERE id = $4`,
		models.StatusFailed, reason, time.Now().UTC(), id)
	return err
}

// DecrementWithdrawalRetriesTx burns one retry on a locked withdrawal that
// cannot execute this pass, failing it terminally once the budget is gone.
// It returns the resulting status.
func (s *LedgerStore) DecrementWithdrawalRetriesTx(ctx context.Context, tx *sql.Tx, t *models.Transaction, reason string) (string, error) {
	if t.Retries <= 1 {
		if err := s.FailWithdrawalTx(ctx, tx, t.ID, reason); err != nil {
			return "", err
		}
		return models.StatusFailed, nil
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE transactions SET retries = retries - 1, comment = $1, updated_at = $2 WHERE id = $3`,
		reason, time.Now().UTC(), t.ID)
	if err != nil {
		return "", err
	}
	return models.StatusPending, nil
}

// RecordWithdrawalTxID persists the adapter-assigned txid after a broadcast.
func (s *LedgerStore) RecordWithdrawalTxID(ctx context.Context, id int64, txid string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET txid = NULLIF($1, ''), updated_at = $2 WHERE id = $3`,
		txid, time.Now().UTC(), id)
	return err
}

// RequeueWithdrawal returns an optimistically DONE withdrawal to PENDING (or
// FAILED once retries are exhausted) after a failed adapter call, recording
// the last error.
func (s *LedgerStore) RequeueWithdrawal(ctx context.Context, t *models.Transaction, lastErr error) (status string, err error) {
	status = models.StatusPending
	if t.Retries <= 1 {
		status = models.StatusFailed
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE transactions SET status = $1, comment = $2, updated_at = $3 WHERE id = $4`,
		status, lastErr.Error(), time.Now().UTC(), t.ID)
	return status, err
}

// FailWithdrawal terminally fails a withdrawal outside the retry path, e.g.
// an invalid destination.
func (s *LedgerStore) FailWithdrawal(ctx context.Context, id int64, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET status = $1, comment = $2, updated_at = $3 WHERE id = $4`,
		models.StatusFailed, reason, time.Now().UTC(), id)
	return err
}

func scanTransaction(row *sql.Row) (*models.Transaction, error) {
	t := &models.Transaction{}
	err := row.Scan(
		&t.ID, &t.Tenant, &t.Category, &t.Tags, &t.Account, &t.OtherAccount,
		&t.Address, &t.Extra, &t.TxID, &t.Symbol, &t.Amount, &t.Fee, &t.Comment,
		&t.CreatedAt, &t.UpdatedAt, &t.Confirmations, &t.Status, &t.Retries,
		&t.AdminConfirm, &t.UserConfirm, &t.Nonce,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func scanTransactionRows(rows *sql.Rows) (*models.Transaction, error) {
	t := &models.Transaction{}
	err := rows.Scan(
		&t.ID, &t.Tenant, &t.Category, &t.Tags, &t.Account, &t.OtherAccount,
		&t.Address, &t.Extra, &t.TxID, &t.Symbol, &t.Amount, &t.Fee, &t.Comment,
		&t.CreatedAt, &t.UpdatedAt, &t.Confirmations, &t.Status, &t.Retries,
		&t.AdminConfirm, &t.UserConfirm, &t.Nonce,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}
