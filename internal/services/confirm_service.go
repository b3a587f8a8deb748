package services

import (
	"context"
	"crypto/subtle"
	"log"

	"github.com/coinvault/backend/internal/audit"
	"github.com/coinvault/backend/internal/config"
	"github.com/coinvault/backend/internal/models"
)

// ConfirmService is the gate between UNCONFIRMED and PENDING for withdrawals
// and moves (deposits bypass it). A transaction is promoted once every
// configured requirement is satisfied; a disabled requirement counts as
// already satisfied. Move legs are promoted together.
type ConfirmService struct {
	store    *LedgerStore
	notifier Notifier
	audit    *audit.AuditLogger
	cfg      *config.WalletConfig
}

func NewConfirmService(store *LedgerStore, notifier Notifier, cfg *config.WalletConfig) *ConfirmService {
	return &ConfirmService{
		store:    store,
		notifier: notifier,
		audit:    audit.NewAuditLogger(),
		cfg:      cfg,
	}
}

// UserConfirm consumes the single-use nonce from a confirmation link. A
// nonce delivered twice yields ErrAlreadyConfirmed on the second attempt.
func (s *ConfirmService) UserConfirm(ctx context.Context, tenant string, id int64, nonce string) error {
	t, err := s.store.GetTransaction(ctx, tenant, id)
	if err != nil {
		return err
	}
	if t.Category != models.CategoryWithdraw && t.Category != models.CategoryMove {
		return models.ErrNotFound
	}
	if t.Nonce == "" {
		return models.ErrAlreadyConfirmed
	}
	if nonce == "" || subtle.ConstantTimeCompare([]byte(t.Nonce), []byte(nonce)) != 1 {
		return models.ErrNotFound
	}

	if err := s.store.ConsumeNonce(ctx, tenant, id, nonce); err != nil {
		return err
	}
	t.UserConfirm = true
	t.Nonce = ""

	s.audit.LogOperation("USER_CONFIRM", t.TxID, t.Account, "confirmation nonce consumed")
	return s.maybePromote(ctx, tenant, t)
}

// AdminConfirm records the administrator approval signal.
func (s *ConfirmService) AdminConfirm(ctx context.Context, tenant string, id int64) error {
	t, err := s.store.GetTransaction(ctx, tenant, id)
	if err != nil {
		return err
	}
	if t.Category != models.CategoryWithdraw && t.Category != models.CategoryMove {
		return models.ErrNotFound
	}

	if err := s.store.SetAdminConfirm(ctx, tenant, id); err != nil {
		return err
	}
	t.AdminConfirm = true

	s.audit.LogOperation("ADMIN_CONFIRM", t.TxID, t.Account, "admin approval recorded")
	return s.maybePromote(ctx, tenant, t)
}

// Cancel lets an operator cancel a transaction. Done withdrawals are final;
// a done move may still be reversed administratively, both legs together.
func (s *ConfirmService) Cancel(ctx context.Context, tenant string, id int64) error {
	t, err := s.store.GetTransaction(ctx, tenant, id)
	if err != nil {
		return err
	}
	if !t.Cancellable() {
		return models.ErrNotCancellable
	}

	if err := s.store.CancelGroup(ctx, tenant, t); err != nil {
		return err
	}

	s.audit.LogMovement("CANCEL", t.TxID, t.Account, t.Symbol, t.Amount, models.StatusCancelled)
	log.Printf("[CONFIRM] Cancelled transaction %d (%s)", t.ID, t.Category)
	return nil
}

func (s *ConfirmService) maybePromote(ctx context.Context, tenant string, t *models.Transaction) error {
	if t.Status != models.StatusUnconfirmed {
		return nil
	}

	adminSatisfied := !s.cfg.AdminConfirmRequired || t.AdminConfirm
	userSatisfied := !s.cfg.UserConfirmRequired || t.UserConfirm
	if !adminSatisfied || !userSatisfied {
		return nil
	}

	if err := s.store.PromoteGroup(ctx, tenant, t); err != nil {
		return err
	}
	log.Printf("[CONFIRM] Transaction %d promoted to PENDING", t.ID)
	return nil
}
