package services

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/coinvault/backend/internal/adapters"
	"github.com/coinvault/backend/internal/audit"
	"github.com/coinvault/backend/internal/config"
	"github.com/coinvault/backend/internal/models"
)

// DepositService idempotently records blockchain deposit events and issues
// deposit addresses. Adapter notifications are at-least-once, so every path
// here must be safe to replay.
type DepositService struct {
	store    *LedgerStore
	registry *adapters.Registry
	notifier Notifier
	audit    *audit.AuditLogger
	cfg      *config.WalletConfig
}

func NewDepositService(store *LedgerStore, registry *adapters.Registry, notifier Notifier, cfg *config.WalletConfig) *DepositService {
	return &DepositService{
		store:    store,
		registry: registry,
		notifier: notifier,
		audit:    audit.NewAuditLogger(),
		cfg:      cfg,
	}
}

// Ingest records or refreshes one deposit event. Events for addresses this
// system never issued are silently dropped. The "deposit observed"
// notification fires only when a new row is inserted, never on a
// confirmation-count update.
func (s *DepositService) Ingest(ctx context.Context, event *models.DepositEvent) error {
	tenant, account, err := s.store.LookupAccountForAddress(ctx, event.Symbol, event.Address, event.Extra)
	if errors.Is(err, models.ErrAddressNotFound) {
		log.Printf("[DEPOSIT] Dropping event for unknown address %s/%s", event.Symbol, event.Address)
		return nil
	}
	if err != nil {
		return err
	}

	adapter, err := s.registry.Get(event.Symbol)
	if err != nil {
		return err
	}

	status := models.StatusPending
	if event.Confirmations >= adapter.GetMinConf() {
		status = models.StatusDone
	}

	err = s.store.UpdateDeposit(ctx, event.TxID, event.Address, event.Symbol, event.Confirmations, status)
	if err == nil {
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return err
	}

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	t := &models.Transaction{
		Tenant:        tenant,
		Category:      models.CategoryDeposit,
		Account:       account,
		Address:       event.Address,
		Extra:         event.Extra,
		TxID:          event.TxID,
		Symbol:        event.Symbol,
		Amount:        event.Amount,
		Fee:           event.Fee,
		Comment:       event.Comment,
		CreatedAt:     createdAt,
		UpdatedAt:     time.Now().UTC(),
		Confirmations: event.Confirmations,
		Status:        status,
		// Deposits are never adapter-retried; the ceiling keeps the
		// stale-fail pass away from them.
		Retries: s.cfg.DepositRetryCeiling,
	}

	if err := s.store.InsertTransaction(ctx, t); err != nil {
		return err
	}

	s.audit.LogMovement("DEPOSIT", t.TxID, account, t.Symbol, t.Amount, status)
	s.notifier.DepositObserved(ctx, t)
	return nil
}

// RunDiscovery walks the registry and lets every enabled adapter backfill
// deposits it has seen. Adapter failures are logged and retried on the next
// cycle; they never corrupt existing rows.
func (s *DepositService) RunDiscovery(ctx context.Context) {
	for _, symbol := range s.registry.Symbols() {
		adapter, err := s.registry.Get(symbol)
		if err != nil {
			continue
		}
		if err := adapter.RunDiscovery(ctx, s); err != nil {
			log.Printf("[DISCOVERY] %s discovery failed, will retry next cycle: %v", symbol, err)
		}
	}
}

// EnsureDepositAddress returns the account's current deposit address for
// symbol, asking the adapter for a fresh one when none exists or when the
// caller forces a rotation. Old addresses are demoted, never deleted.
func (s *DepositService) EnsureDepositAddress(ctx context.Context, tenant, account, symbol string, forceNew bool) (*models.Address, error) {
	if !forceNew {
		addr, err := s.store.CurrentAddress(ctx, tenant, account, symbol)
		if err == nil {
			return addr, nil
		}
		if !errors.Is(err, models.ErrAddressNotFound) {
			return nil, err
		}
	}

	adapter, err := s.registry.Get(symbol)
	if err != nil {
		return nil, err
	}

	address, extra, err := adapter.GetNewAddress(ctx)
	if err != nil {
		return nil, err
	}

	if forceNew {
		if err := s.store.DemoteAddresses(ctx, tenant, account, symbol); err != nil {
			return nil, err
		}
	}

	addr := &models.Address{
		Tenant:    tenant,
		Account:   account,
		Symbol:    symbol,
		Address:   address,
		Extra:     extra,
		CreatedAt: time.Now().UTC(),
		Status:    models.AddressCurrent,
	}
	if err := s.store.UpsertAddress(ctx, addr); err != nil {
		return nil, err
	}

	s.audit.LogOperation("ADDRESS_ISSUED", "", account, symbol+" "+address)
	return addr, nil
}
