package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction categories.
const (
	CategoryDeposit  = "DEPOSIT"
	CategoryWithdraw = "WITHDRAW"
	CategoryMove     = "MOVE"
	CategoryTrade    = "TRADE"
)

// Transaction lifecycle statuses.
const (
	StatusUnconfirmed = "UNCONFIRMED"
	StatusPending     = "PENDING"
	StatusDone        = "DONE"
	StatusFailed      = "FAILED"
	StatusCancelled   = "CANCELLED"
)

// Move txid suffixes. A move is stored as two rows sharing a common
// "move-<uuid>" prefix.
const (
	MoveTxPrefix      = "move-"
	MoveSendSuffix    = "-send"
	MoveReceiveSuffix = "-receive"
)

// Transaction is the atomic unit of the ledger. Negative amounts are debits
// from Account, positive amounts are credits. For debits the fee is already
// reflected in Amount.
type Transaction struct {
	ID            int64           `json:"id" db:"id"`
	Tenant        string          `json:"tenant" db:"tenant"`
	Category      string          `json:"category" db:"category"`
	Tags          string          `json:"tags" db:"tags"`
	Account       string          `json:"account" db:"account"`
	OtherAccount  string          `json:"other_account,omitempty" db:"other_account"`
	Address       string          `json:"address" db:"address"`
	Extra         string          `json:"extra" db:"extra"`
	TxID          string          `json:"txid" db:"txid"`
	Symbol        string          `json:"symbol" db:"symbol"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Fee           decimal.Decimal `json:"fee" db:"fee"`
	Comment       string          `json:"comment" db:"comment"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
	Confirmations int64           `json:"confirmations" db:"confirmations"`
	Status        string          `json:"status" db:"status"`
	Retries       int             `json:"retries" db:"retries"`
	AdminConfirm  bool            `json:"admin_confirm" db:"admin_confirm"`
	UserConfirm   bool            `json:"user_confirm" db:"user_confirm"`
	Nonce         string          `json:"-" db:"nonce"`
}

// IsDebit reports whether the transaction takes money out of Account.
func (t *Transaction) IsDebit() bool {
	return t.Amount.IsNegative()
}

// MovePrefix returns the shared "move-<uuid>" prefix for a move leg, or ""
// if the transaction is not a move leg.
func (t *Transaction) MovePrefix() string {
	if t.Category != CategoryMove {
		return ""
	}
	if p, ok := strings.CutSuffix(t.TxID, MoveSendSuffix); ok {
		return p
	}
	if p, ok := strings.CutSuffix(t.TxID, MoveReceiveSuffix); ok {
		return p
	}
	return ""
}

// Cancellable reports whether an operator may cancel the transaction.
// Done withdrawals are final; done moves may still be reversed
// administratively.
func (t *Transaction) Cancellable() bool {
	switch t.Status {
	case StatusUnconfirmed, StatusPending:
		return true
	case StatusDone:
		return t.Category == CategoryMove
	}
	return false
}
