package services

import (
	"context"
	"time"

	"github.com/coinvault/backend/internal/adapters"
	"github.com/coinvault/backend/internal/audit"
	"github.com/coinvault/backend/internal/config"
	"github.com/coinvault/backend/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MoveRequest describes an internal transfer between two accounts on this
// system, settled without an on-chain transaction.
type MoveRequest struct {
	Tenant      string
	From        string `validate:"required"`
	To          string `validate:"required"`
	Symbol      string `validate:"required"`
	Amount      decimal.Decimal
	Fee         *decimal.Decimal
	Comment     string
	Tags        string
	SkipConfirm bool
}

// MoveService validates and records atomic paired internal transfers.
type MoveService struct {
	store    *LedgerStore
	registry *adapters.Registry
	notifier Notifier
	audit    *audit.AuditLogger
	cfg      *config.WalletConfig
}

func NewMoveService(store *LedgerStore, registry *adapters.Registry, notifier Notifier, cfg *config.WalletConfig) *MoveService {
	return &MoveService{
		store:    store,
		registry: registry,
		notifier: notifier,
		audit:    audit.NewAuditLogger(),
		cfg:      cfg,
	}
}

// RequestMove inserts both legs of an internal transfer inside one database
// transaction: either both exist afterwards or neither does. It returns the
// send leg.
func (s *MoveService) RequestMove(ctx context.Context, req *MoveRequest) (*models.Transaction, error) {
	if req.From == req.To {
		return nil, models.ErrSelfTransfer
	}
	if !req.Amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}

	adapter, err := s.registry.Get(req.Symbol)
	if err != nil {
		return nil, err
	}

	fee := adapters.MoveFeeFor(adapter, req.Amount)
	if req.Fee != nil {
		fee = *req.Fee
	}
	if fee.IsNegative() || req.Amount.Cmp(fee) <= 0 {
		return nil, models.ErrInvalidAmount
	}

	available, err := s.store.Balance(ctx, req.Tenant, req.From, req.Symbol, BalanceAvailable)
	if err != nil {
		return nil, err
	}
	if available.Cmp(req.Amount) < 0 {
		return nil, models.ErrInsufficientFunds
	}

	status := models.StatusUnconfirmed
	nonce := ""
	switch {
	case req.SkipConfirm:
		status = models.StatusDone
	case !s.cfg.AdminConfirmRequired && !s.cfg.UserConfirmRequired:
		// No confirmation signals are configured, so the gate is already
		// satisfied and the pair queues straight for settlement.
		status = models.StatusPending
	default:
		nonce, err = generateNonce()
		if err != nil {
			return nil, err
		}
	}

	prefix := models.MoveTxPrefix + uuid.NewString()
	now := time.Now().UTC()

	send := &models.Transaction{
		Tenant:       req.Tenant,
		Category:     models.CategoryMove,
		Tags:         req.Tags,
		Account:      req.From,
		OtherAccount: req.To,
		TxID:         prefix + models.MoveSendSuffix,
		Symbol:       req.Symbol,
		Amount:       req.Amount.Neg(),
		Fee:          fee,
		Comment:      req.Comment,
		CreatedAt:    now,
		UpdatedAt:    now,
		Status:       status,
		Retries:      s.cfg.MoveRetries,
		Nonce:        nonce,
	}
	receive := &models.Transaction{
		Tenant:       req.Tenant,
		Category:     models.CategoryMove,
		Tags:         req.Tags,
		Account:      req.To,
		OtherAccount: req.From,
		TxID:         prefix + models.MoveReceiveSuffix,
		Symbol:       req.Symbol,
		Amount:       req.Amount.Sub(fee),
		Fee:          decimal.Zero,
		Comment:      req.Comment,
		CreatedAt:    now,
		UpdatedAt:    now,
		Status:       status,
		Retries:      s.cfg.MoveRetries,
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := s.store.InsertTransactionTx(ctx, tx, send); err != nil {
		return nil, err
	}
	if err := s.store.InsertTransactionTx(ctx, tx, receive); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.audit.LogMovement("MOVE", send.TxID, req.From, req.Symbol, send.Amount, status)

	if status == models.StatusUnconfirmed {
		s.notifier.ConfirmRequested(ctx, send)
	}
	return send, nil
}
