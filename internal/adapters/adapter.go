package adapters

import (
	"context"

	"github.com/coinvault/backend/internal/models"
	"github.com/shopspring/decimal"
)

// DepositSink receives deposit events discovered by an adapter. The deposit
// ingestion service implements it.
type DepositSink interface {
	Ingest(ctx context.Context, event *models.DepositEvent) error
}

// CoinAdapter is the capability interface a coin backend must expose. The
// engine consumes adapters only through this interface; the daemons behind
// them are external collaborators.
type CoinAdapter interface {
	// Symbol returns the currency symbol this adapter serves, e.g. "BTC".
	Symbol() string

	// GetBalance returns the hot wallet balance held by the backend.
	GetBalance(ctx context.Context) (decimal.Decimal, error)

	// GetNewAddress issues a fresh deposit address. extra carries an
	// adapter-specific auxiliary value (e.g. a payment id) and may be empty.
	GetNewAddress(ctx context.Context) (address, extra string, err error)

	// Withdraw broadcasts an on-chain transaction and returns its txid.
	Withdraw(ctx context.Context, address string, amount decimal.Decimal, comment, extra string) (txid string, err error)

	// GetMinConf returns the confirmation count required before a deposit
	// counts as settled.
	GetMinConf() int64

	// GetMinWithdraw returns the smallest allowed withdrawal amount.
	GetMinWithdraw() decimal.Decimal

	// Withdrawal fee policy: fee = fixed + amount * proportional.
	GetWithdrawFee() decimal.Decimal
	GetWithdrawFeeProportional() decimal.Decimal

	// Internal transfer fee policy.
	GetMoveFee() decimal.Decimal
	GetMoveFeeProportional() decimal.Decimal

	// IsUnlocked reports whether the backend wallet can sign transactions
	// right now. Locked adapters are skipped by the settlement pass.
	IsUnlocked(ctx context.Context) bool

	// RunDiscovery polls the backend for deposits this system has not seen
	// yet and pushes them into the sink.
	RunDiscovery(ctx context.Context, sink DepositSink) error
}

// WithdrawFeeFor resolves the fee for a withdrawal of amount under the
// adapter's policy.
func WithdrawFeeFor(a CoinAdapter, amount decimal.Decimal) decimal.Decimal {
	return a.GetWithdrawFee().Add(amount.Mul(a.GetWithdrawFeeProportional()))
}

// MoveFeeFor resolves the fee for an internal transfer of amount under the
// adapter's policy.
func MoveFeeFor(a CoinAdapter, amount decimal.Decimal) decimal.Decimal {
	return a.GetMoveFee().Add(amount.Mul(a.GetMoveFeeProportional()))
}
