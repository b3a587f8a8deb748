package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"time"

	"github.com/coinvault/backend/internal/adapters"
	"github.com/coinvault/backend/internal/audit"
	"github.com/coinvault/backend/internal/config"
	"github.com/coinvault/backend/internal/models"
	"github.com/shopspring/decimal"
)

// WithdrawRequest describes a user-initiated withdrawal to an external
// address. Fee, when nil, is resolved from the adapter's policy.
type WithdrawRequest struct {
	Tenant      string
	Account     string `validate:"required"`
	Symbol      string `validate:"required"`
	Address     string `validate:"required"`
	Amount      decimal.Decimal
	Fee         *decimal.Decimal
	Comment     string
	Extra       string
	SkipConfirm bool
}

// WithdrawService validates and records withdrawal requests. Actual
// execution happens later in the settlement pass.
type WithdrawService struct {
	store    *LedgerStore
	registry *adapters.Registry
	moves    *MoveService
	notifier Notifier
	audit    *audit.AuditLogger
	cfg      *config.WalletConfig
}

func NewWithdrawService(store *LedgerStore, registry *adapters.Registry, moves *MoveService, notifier Notifier, cfg *config.WalletConfig) *WithdrawService {
	return &WithdrawService{
		store:    store,
		registry: registry,
		moves:    moves,
		notifier: notifier,
		audit:    audit.NewAuditLogger(),
		cfg:      cfg,
	}
}

// RequestWithdrawal validates and queues a withdrawal. The recorded debit is
// fee-inclusive. When the destination is another account's deposit address
// on this system the request is silently settled as an internal move; the
// caller's own address is rejected.
func (s *WithdrawService) RequestWithdrawal(ctx context.Context, req *WithdrawRequest) (*models.Transaction, error) {
	if !req.Amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}

	adapter, err := s.registry.Get(req.Symbol)
	if err != nil {
		return nil, err
	}

	fee := adapters.WithdrawFeeFor(adapter, req.Amount)
	if req.Fee != nil {
		fee = *req.Fee
	}

	if req.Amount.Cmp(adapter.GetMinWithdraw()) < 0 {
		return nil, models.ErrBelowMinimum
	}
	if fee.IsNegative() || req.Amount.Cmp(fee) <= 0 {
		return nil, models.ErrInvalidAmount
	}

	available, err := s.store.Balance(ctx, req.Tenant, req.Account, req.Symbol, BalanceAvailable)
	if err != nil {
		return nil, err
	}
	if available.Cmp(req.Amount) < 0 {
		return nil, models.ErrInsufficientFunds
	}

	// A destination we issued ourselves never needs an on-chain
	// transaction: settle it as an internal move instead.
	_, owner, err := s.store.LookupAccountForAddress(ctx, req.Symbol, req.Address, req.Extra)
	if err == nil {
		if owner == req.Account {
			return nil, models.ErrSelfWithdrawal
		}
		log.Printf("[WITHDRAW] Redirecting withdrawal by %s to internal move for %s", req.Account, owner)
		return s.moves.RequestMove(ctx, &MoveRequest{
			Tenant:      req.Tenant,
			From:        req.Account,
			To:          owner,
			Symbol:      req.Symbol,
			Amount:      req.Amount,
			Fee:         req.Fee,
			Comment:     req.Comment,
			Tags:        "redirect",
			SkipConfirm: req.SkipConfirm,
		})
	}
	if !errors.Is(err, models.ErrAddressNotFound) {
		return nil, err
	}

	status := models.StatusUnconfirmed
	nonce := ""
	switch {
	case req.SkipConfirm, !s.cfg.AdminConfirmRequired && !s.cfg.UserConfirmRequired:
		status = models.StatusPending
	default:
		nonce, err = generateNonce()
		if err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	t := &models.Transaction{
		Tenant:    req.Tenant,
		Category:  models.CategoryWithdraw,
		Account:   req.Account,
		Address:   req.Address,
		Extra:     req.Extra,
		Symbol:    req.Symbol,
		Amount:    req.Amount.Neg(),
		Fee:       fee,
		Comment:   req.Comment,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    status,
		Retries:   s.cfg.WithdrawRetries,
		Nonce:     nonce,
	}

	if err := s.store.InsertTransaction(ctx, t); err != nil {
		return nil, err
	}

	s.audit.LogMovement("WITHDRAW_REQUEST", t.TxID, req.Account, req.Symbol, t.Amount, status)

	if status == models.StatusUnconfirmed {
		s.notifier.ConfirmRequested(ctx, t)
	}
	return t, nil
}

// generateNonce returns a fresh single-use confirmation token.
func generateNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
