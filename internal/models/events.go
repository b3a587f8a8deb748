package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DepositEvent is a deposit/block notification produced by a coin adapter.
// Delivery is at-least-once; ingestion must be safe to replay.
type DepositEvent struct {
	Symbol        string          `json:"symbol" validate:"required"`
	TxID          string          `json:"txid" validate:"required"`
	Address       string          `json:"address" validate:"required"`
	Extra         string          `json:"extra,omitempty"`
	Amount        decimal.Decimal `json:"amount" validate:"required"`
	Fee           decimal.Decimal `json:"fee"`
	Confirmations int64           `json:"confirmations"`
	CreatedAt     time.Time       `json:"created_time"`
	Comment       string          `json:"comment,omitempty"`
}

// Notification event types pushed to the outbound queue for the
// notification collaborators.
const (
	EventDepositObserved  = "deposit.observed"
	EventConfirmRequested = "confirm.requested"
	EventWithdrawFailed   = "withdraw.failed"
	EventMoveFailed       = "move.failed"
)
