package services

import (
	"context"
	"time"

	"github.com/coinvault/backend/internal/adapters"
	"github.com/coinvault/backend/internal/config"
	"github.com/coinvault/backend/internal/models"
	"github.com/shopspring/decimal"
)

// fakeAdapter is a scriptable CoinAdapter for service tests.
type fakeAdapter struct {
	symbol          string
	minConf         int64
	minWithdraw     decimal.Decimal
	withdrawFee     decimal.Decimal
	withdrawFeeProp decimal.Decimal
	moveFee         decimal.Decimal
	moveFeeProp     decimal.Decimal
	locked          bool
	newAddress      string
	newExtra        string
	newAddressErr   error
	withdrawTxID    string
	withdrawErr     error
	withdrawCalls   int
	withdrawAmounts []decimal.Decimal
	discovered      []*models.DepositEvent
}

func (f *fakeAdapter) Symbol() string { return f.symbol }

func (f *fakeAdapter) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeAdapter) GetNewAddress(ctx context.Context) (string, string, error) {
	return f.newAddress, f.newExtra, f.newAddressErr
}

func (f *fakeAdapter) Withdraw(ctx context.Context, address string, amount decimal.Decimal, comment, extra string) (string, error) {
	f.withdrawCalls++
	f.withdrawAmounts = append(f.withdrawAmounts, amount)
	if f.withdrawErr != nil {
		return "", f.withdrawErr
	}
	return f.withdrawTxID, nil
}

func (f *fakeAdapter) GetMinConf() int64                        { return f.minConf }
func (f *fakeAdapter) GetMinWithdraw() decimal.Decimal          { return f.minWithdraw }
func (f *fakeAdapter) GetWithdrawFee() decimal.Decimal          { return f.withdrawFee }
func (f *fakeAdapter) GetWithdrawFeeProportional() decimal.Decimal {
	return f.withdrawFeeProp
}
func (f *fakeAdapter) GetMoveFee() decimal.Decimal             { return f.moveFee }
func (f *fakeAdapter) GetMoveFeeProportional() decimal.Decimal { return f.moveFeeProp }
func (f *fakeAdapter) IsUnlocked(ctx context.Context) bool     { return !f.locked }

func (f *fakeAdapter) RunDiscovery(ctx context.Context, sink adapters.DepositSink) error {
	for _, event := range f.discovered {
		if err := sink.Ingest(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// recordingNotifier captures notification calls for assertions.
type recordingNotifier struct {
	deposits []*models.Transaction
	confirms []*models.Transaction
	failures []*models.Transaction
}

func (n *recordingNotifier) DepositObserved(ctx context.Context, t *models.Transaction) {
	n.deposits = append(n.deposits, t)
}

func (n *recordingNotifier) ConfirmRequested(ctx context.Context, t *models.Transaction) {
	n.confirms = append(n.confirms, t)
}

func (n *recordingNotifier) TransactionFailed(ctx context.Context, t *models.Transaction) {
	n.failures = append(n.failures, t)
}

func testConfig() *config.WalletConfig {
	return &config.WalletConfig{
		WithdrawRetries:     3,
		MoveRetries:         3,
		DepositRetryCeiling: 100000,
		BatchSize:           8,
		PassBudget:          time.Minute,
		TickerInterval:      time.Minute,
		UserConfirmRequired: true,
	}
}

var transactionColumns = []string{
	"id", "tenant", "category", "tags", "account", "other_account", "address", "extra",
	"txid", "symbol", "amount", "fee", "comment", "created_at", "updated_at",
	"confirmations", "status", "retries", "admin_confirm", "user_confirm", "nonce",
}
