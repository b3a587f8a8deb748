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
	"github.com/go-redis/redis/v8"
)

// SettlementService runs the periodic settlement pass: fail stale rows,
// execute pending moves, execute pending withdrawals. All state lives in the
// ledger store; nothing in-process survives between passes.
type SettlementService struct {
	store    *LedgerStore
	registry *adapters.Registry
	deposits *DepositService
	notifier Notifier
	redis    *redis.Client
	audit    *audit.AuditLogger
	cfg      *config.WalletConfig
}

func NewSettlementService(store *LedgerStore, registry *adapters.Registry, deposits *DepositService, notifier Notifier, redisClient *redis.Client, cfg *config.WalletConfig) *SettlementService {
	return &SettlementService{
		store:    store,
		registry: registry,
		deposits: deposits,
		notifier: notifier,
		redis:    redisClient,
		audit:    audit.NewAuditLogger(),
		cfg:      cfg,
	}
}

// RunPass executes one settlement pass across all tenants with pending
// work. It is idempotent: rerunning immediately only finds what the
// previous pass deferred.
func (s *SettlementService) RunPass(ctx context.Context) {
	deadline := time.Now().Add(s.cfg.PassBudget)

	s.deposits.RunDiscovery(ctx)

	tenants, err := s.store.PendingTenants(ctx)
	if err != nil {
		log.Printf("[SETTLEMENT] Failed to list tenants: %v", err)
		return
	}

	for _, tenant := range tenants {
		if time.Now().After(deadline) {
			log.Printf("[SETTLEMENT] Pass budget exhausted, deferring remaining tenants")
			return
		}
		s.runTenant(ctx, tenant, deadline)
	}
}

func (s *SettlementService) runTenant(ctx context.Context, tenant string, deadline time.Time) {
	if !s.acquireLock(ctx, tenant) {
		log.Printf("[SETTLEMENT] Pass for tenant %q already running, skipping", tenant)
		return
	}
	defer s.releaseLock(ctx, tenant)

	s.failStale(ctx, tenant)
	s.executeMoves(ctx, tenant, deadline)
	s.executeWithdrawals(ctx, tenant, deadline)
}

// failStale terminally fails pending withdraw/move rows whose retry budget
// is exhausted. The status flip doubles as the once-guard for the terminal
// notification.
func (s *SettlementService) failStale(ctx context.Context, tenant string) {
	failed, err := s.store.FailStale(ctx, tenant)
	if err != nil {
		log.Printf("[SETTLEMENT] Stale-fail pass error: %v", err)
		return
	}
	for i := range failed {
		t := &failed[i]
		s.audit.LogMovement("STALE_FAIL", t.TxID, t.Account, t.Symbol, t.Amount, models.StatusFailed)
		// A move flips both legs; only the debit leg carries the
		// notification.
		if !t.IsDebit() {
			continue
		}
		s.notifier.TransactionFailed(ctx, t)
	}
}

// executeMoves settles pending internal transfers oldest-first. The balance
// check and the status mutation share one store transaction so concurrent
// passes cannot jointly overdraw a sender.
func (s *SettlementService) executeMoves(ctx context.Context, tenant string, deadline time.Time) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		log.Printf("[SETTLEMENT] Failed to begin move batch: %v", err)
		return
	}
	defer tx.Rollback()

	sends, err := s.store.PendingMoveSendsTx(ctx, tx, tenant, s.cfg.BatchSize)
	if err != nil {
		log.Printf("[SETTLEMENT] Failed to list pending moves: %v", err)
		return
	}

	for i := range sends {
		if time.Now().After(deadline) {
			break
		}
		send := &sends[i]
		prefix := send.MovePrefix()
		if prefix == "" {
			log.Printf("[SETTLEMENT] Skipping malformed move txid %q", send.TxID)
			continue
		}

		// The pending debit itself is the reservation, so the check runs
		// against the confirmed balance, not the available one.
		balance, err := s.store.BalanceTx(ctx, tx, tenant, send.Account, send.Symbol, BalanceConfirmed)
		if err != nil {
			log.Printf("[SETTLEMENT] Balance check failed for move %s: %v", send.TxID, err)
			continue
		}

		if balance.Add(send.Amount).IsNegative() {
			if err := s.store.DecrementMoveRetriesTx(ctx, tx, tenant, prefix); err != nil {
				log.Printf("[SETTLEMENT] Failed to decrement retries for move %s: %v", send.TxID, err)
			}
			continue
		}

		if err := s.store.SettleMoveTx(ctx, tx, tenant, prefix); err != nil {
			log.Printf("[SETTLEMENT] Failed to settle move %s: %v", send.TxID, err)
			continue
		}
		s.audit.LogMovement("MOVE_SETTLED", send.TxID, send.Account, send.Symbol, send.Amount, models.StatusDone)
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[SETTLEMENT] Failed to commit move batch: %v", err)
	}
}

// executeWithdrawals pays out pending withdrawals for every enabled,
// unlocked symbol. Each row is committed DONE before the adapter call: a
// crash after the on-chain send but before bookkeeping must never leave the
// withdrawal re-payable.
func (s *SettlementService) executeWithdrawals(ctx context.Context, tenant string, deadline time.Time) {
	for _, symbol := range s.registry.Symbols() {
		adapter, err := s.registry.Get(symbol)
		if err != nil {
			continue
		}
		if !adapter.IsUnlocked(ctx) {
			log.Printf("[SETTLEMENT] %s wallet locked, skipping withdrawals", symbol)
			continue
		}

		for processed := 0; processed < s.cfg.BatchSize; processed++ {
			if time.Now().After(deadline) {
				return
			}
			if !s.executeNextWithdrawal(ctx, tenant, symbol, adapter) {
				break
			}
		}
	}
}

// executeNextWithdrawal claims and processes one pending withdrawal. It
// reports whether a row was claimed.
func (s *SettlementService) executeNextWithdrawal(ctx context.Context, tenant, symbol string, adapter adapters.CoinAdapter) bool {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		log.Printf("[SETTLEMENT] Failed to begin withdrawal claim: %v", err)
		return false
	}
	defer tx.Rollback()

	w, err := s.store.NextPendingWithdrawalTx(ctx, tx, tenant, symbol)
	if errors.Is(err, models.ErrNotFound) {
		return false
	}
	if err != nil {
		log.Printf("[SETTLEMENT] Failed to claim withdrawal: %v", err)
		return false
	}

	// Destinations this system issued should have been redirected to a
	// move at request time; paying one on-chain would double-credit it.
	if _, _, err := s.store.LookupAccountForAddressTx(ctx, tx, symbol, w.Address, w.Extra); err == nil {
		if err := s.store.FailWithdrawalTx(ctx, tx, w.ID, models.ErrInvalidDestination.Error()); err != nil {
			log.Printf("[SETTLEMENT] Failed to reject withdrawal %d: %v", w.ID, err)
			return false
		}
		if err := tx.Commit(); err != nil {
			log.Printf("[SETTLEMENT] Failed to commit rejection of withdrawal %d: %v", w.ID, err)
			return false
		}
		w.Status = models.StatusFailed
		s.audit.LogError(w.TxID, w.Account, symbol, models.ErrInvalidDestination)
		s.notifier.TransactionFailed(ctx, w)
		return true
	} else if !errors.Is(err, models.ErrAddressNotFound) {
		log.Printf("[SETTLEMENT] Destination check failed for withdrawal %d: %v", w.ID, err)
		return false
	}

	balance, err := s.store.BalanceTx(ctx, tx, tenant, w.Account, symbol, BalanceConfirmed)
	if err != nil {
		log.Printf("[SETTLEMENT] Balance check failed for withdrawal %d: %v", w.ID, err)
		return false
	}
	if balance.Add(w.Amount).IsNegative() {
		status, err := s.store.DecrementWithdrawalRetriesTx(ctx, tx, w, models.ErrInsufficientFunds.Error())
		if err != nil {
			log.Printf("[SETTLEMENT] Failed to defer withdrawal %d: %v", w.ID, err)
			return false
		}
		if err := tx.Commit(); err != nil {
			log.Printf("[SETTLEMENT] Failed to commit deferral of withdrawal %d: %v", w.ID, err)
			return false
		}
		if status == models.StatusFailed {
			w.Status = status
			s.notifier.TransactionFailed(ctx, w)
		}
		return true
	}

	// Optimistic pre-commit. From here on the row is DONE in the ledger
	// regardless of what the adapter does.
	if err := s.store.MarkWithdrawalExecutingTx(ctx, tx, w.ID); err != nil {
		log.Printf("[SETTLEMENT] Failed to mark withdrawal %d: %v", w.ID, err)
		return false
	}
	if err := tx.Commit(); err != nil {
		log.Printf("[SETTLEMENT] Failed to commit claim of withdrawal %d: %v", w.ID, err)
		return false
	}

	// The ledger debit is fee-inclusive; the recipient gets the debit minus
	// the operator fee.
	payout := w.Amount.Neg().Sub(w.Fee)
	txid, err := adapter.Withdraw(ctx, w.Address, payout, w.Comment, w.Extra)
	if err != nil {
		status, reqErr := s.store.RequeueWithdrawal(ctx, w, err)
		if reqErr != nil {
			// The row stays DONE; the audit trail flags it for manual review.
			log.Printf("[SETTLEMENT] CRITICAL: failed to requeue withdrawal %d after adapter error: %v", w.ID, reqErr)
			s.audit.LogError(w.TxID, w.Account, symbol, reqErr)
			return true
		}
		log.Printf("[SETTLEMENT] Withdrawal %d adapter call failed, status now %s: %v", w.ID, status, err)
		s.audit.LogError(w.TxID, w.Account, symbol, err)
		if status == models.StatusFailed {
			w.Status = status
			w.Comment = err.Error()
			s.notifier.TransactionFailed(ctx, w)
		}
		return true
	}

	if err := s.store.RecordWithdrawalTxID(ctx, w.ID, txid); err != nil {
		log.Printf("[SETTLEMENT] Failed to record txid %s for withdrawal %d: %v", txid, w.ID, err)
	}
	s.audit.LogMovement("WITHDRAW_SETTLED", txid, w.Account, symbol, w.Amount, models.StatusDone)
	return true
}

// acquireLock takes a best-effort per-tenant pass lock. Row-level locks in
// the store remain the correctness backstop when Redis is absent.
func (s *SettlementService) acquireLock(ctx context.Context, tenant string) bool {
	if s.redis == nil {
		return true
	}
	ok, err := s.redis.SetNX(ctx, "settlement:lock:"+tenant, 1, 2*s.cfg.PassBudget).Result()
	if err != nil {
		log.Printf("[SETTLEMENT] Lock acquisition failed, proceeding without: %v", err)
		return true
	}
	return ok
}

func (s *SettlementService) releaseLock(ctx context.Context, tenant string) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, "settlement:lock:"+tenant).Err(); err != nil {
		log.Printf("[SETTLEMENT] Lock release failed: %v", err)
	}
}
