package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/coinvault/backend/internal/adapters"
	"github.com/coinvault/backend/internal/config"
	"github.com/coinvault/backend/internal/middleware"
	"github.com/coinvault/backend/internal/models"
	"github.com/coinvault/backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

// stubAdapter satisfies adapters.CoinAdapter for handler tests.
type stubAdapter struct {
	symbol string
}

func (s *stubAdapter) Symbol() string { return s.symbol }
func (s *stubAdapter) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (s *stubAdapter) GetNewAddress(ctx context.Context) (string, string, error) {
	return "addr-new", "", nil
}
func (s *stubAdapter) Withdraw(ctx context.Context, address string, amount decimal.Decimal, comment, extra string) (string, error) {
	return "txid", nil
}
func (s *stubAdapter) GetMinConf() int64                           { return 3 }
func (s *stubAdapter) GetMinWithdraw() decimal.Decimal             { return decimal.RequireFromString("0.01") }
func (s *stubAdapter) GetWithdrawFee() decimal.Decimal             { return decimal.RequireFromString("0.001") }
func (s *stubAdapter) GetWithdrawFeeProportional() decimal.Decimal { return decimal.Zero }
func (s *stubAdapter) GetMoveFee() decimal.Decimal                 { return decimal.Zero }
func (s *stubAdapter) GetMoveFeeProportional() decimal.Decimal     { return decimal.Zero }
func (s *stubAdapter) IsUnlocked(ctx context.Context) bool         { return true }
func (s *stubAdapter) RunDiscovery(ctx context.Context, sink adapters.DepositSink) error {
	return nil
}

func testWalletConfig() *config.WalletConfig {
	return &config.WalletConfig{
		WithdrawRetries:     3,
		MoveRetries:         3,
		DepositRetryCeiling: 100000,
		BatchSize:           8,
		PassBudget:          time.Minute,
		UserConfirmRequired: true,
	}
}

func newHandlerFixture(t *testing.T) (*WalletHandler, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	registry := adapters.NewRegistry()
	assert.NoError(t, registry.Register(&stubAdapter{symbol: "BTC"}))

	cfg := testWalletConfig()
	store := services.NewLedgerStore(db)
	notifier := services.NewQueueNotifier(nil)
	deposits := services.NewDepositService(store, registry, notifier, cfg)
	moves := services.NewMoveService(store, registry, notifier, cfg)
	withdrawals := services.NewWithdrawService(store, registry, moves, notifier, cfg)
	confirms := services.NewConfirmService(store, notifier, cfg)

	handler := NewWalletHandler(store, deposits, withdrawals, moves, confirms)
	return handler, mock, func() { db.Close() }
}

func authenticated(r *http.Request, account string) *http.Request {
	ctx := context.WithValue(r.Context(), middleware.AccountKey, account)
	return r.WithContext(ctx)
}

func TestWalletHandler_NotifyDeposit(t *testing.T) {
	t.Run("rejects malformed body", func(t *testing.T) {
		handler, _, cleanup := newHandlerFixture(t)
		defer cleanup()

		r := httptest.NewRequest("POST", "/deposits/notify", bytes.NewBufferString("not json"))
		w := httptest.NewRecorder()
		handler.NotifyDeposit(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects trailing content", func(t *testing.T) {
		handler, _, cleanup := newHandlerFixture(t)
		defer cleanup()

		body := `{"symbol":"BTC","txid":"tx1","address":"a1","amount":"1"}{"extra":true}`
		r := httptest.NewRequest("POST", "/deposits/notify", bytes.NewBufferString(body))
		w := httptest.NewRecorder()
		handler.NotifyDeposit(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("accepts and drops unknown address", func(t *testing.T) {
		handler, mock, cleanup := newHandlerFixture(t)
		defer cleanup()

		mock.ExpectQuery("SELECT tenant, account FROM addresses").
			WillReturnError(sql.ErrNoRows)

		body := `{"symbol":"BTC","txid":"tx1","address":"unknown","amount":"1"}`
		r := httptest.NewRequest("POST", "/deposits/notify", bytes.NewBufferString(body))
		w := httptest.NewRecorder()
		handler.NotifyDeposit(w, r)

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWalletHandler_GetBalance(t *testing.T) {
	t.Run("requires symbol", func(t *testing.T) {
		handler, _, cleanup := newHandlerFixture(t)
		defer cleanup()

		r := authenticated(httptest.NewRequest("GET", "/balance", nil), "alice")
		w := httptest.NewRecorder()
		handler.GetBalance(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("returns both balance modes", func(t *testing.T) {
		handler, mock, cleanup := newHandlerFixture(t)
		defer cleanup()

		mock.ExpectQuery("SELECT id, tenant, account, symbol, address, extra, created_at, status").
			WillReturnRows(sqlmock.NewRows([]string{"id", "tenant", "account", "symbol", "address", "extra", "created_at", "status"}).
				AddRow(int64(1), "", "alice", "BTC", "addr1", "", time.Now(), models.AddressCurrent))
		mock.ExpectQuery("SELECT COALESCE").
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("2.5"))
		mock.ExpectQuery("SELECT COALESCE").
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("1.5"))

		r := authenticated(httptest.NewRequest("GET", "/balance?symbol=BTC", nil), "alice")
		w := httptest.NewRecorder()
		handler.GetBalance(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]string
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "2.5", response["confirmed"])
		assert.Equal(t, "1.5", response["available"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWalletHandler_GetDepositAddress(t *testing.T) {
	handler, mock, cleanup := newHandlerFixture(t)
	defer cleanup()

	mock.ExpectQuery("SELECT id, tenant, account, symbol, address, extra, created_at, status").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant", "account", "symbol", "address", "extra", "created_at", "status"}).
			AddRow(int64(1), "", "alice", "BTC", "addr1", "", time.Now(), models.AddressCurrent))

	r := authenticated(httptest.NewRequest("GET", "/deposit-address?symbol=BTC", nil), "alice")
	w := httptest.NewRecorder()
	handler.GetDepositAddress(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	var response map[string]string
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "addr1", response["address"])
	assert.NotEmpty(t, response["qr_png"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletHandler_RequestWithdrawal(t *testing.T) {
	t.Run("validation failure", func(t *testing.T) {
		handler, _, cleanup := newHandlerFixture(t)
		defer cleanup()

		body := `{"symbol":"btc lowercase","address":"ext1","amount":"1"}`
		r := authenticated(httptest.NewRequest("POST", "/withdrawals", bytes.NewBufferString(body)), "alice")
		w := httptest.NewRecorder()
		handler.RequestWithdrawal(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("insufficient funds maps to 402", func(t *testing.T) {
		handler, mock, cleanup := newHandlerFixture(t)
		defer cleanup()

		mock.ExpectQuery("SELECT COALESCE").
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("0.1"))

		body := `{"symbol":"BTC","address":"ext1","amount":"1"}`
		r := authenticated(httptest.NewRequest("POST", "/withdrawals", bytes.NewBufferString(body)), "alice")
		w := httptest.NewRecorder()
		handler.RequestWithdrawal(w, r)

		assert.Equal(t, http.StatusPaymentRequired, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("queued withdrawal returns 201", func(t *testing.T) {
		handler, mock, cleanup := newHandlerFixture(t)
		defer cleanup()

		mock.ExpectQuery("SELECT COALESCE").
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("5"))
		mock.ExpectQuery("SELECT tenant, account FROM addresses").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("INSERT INTO transactions").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))

		body := `{"symbol":"BTC","address":"ext1","amount":"1"}`
		r := authenticated(httptest.NewRequest("POST", "/withdrawals", bytes.NewBufferString(body)), "alice")
		w := httptest.NewRecorder()
		handler.RequestWithdrawal(w, r)

		assert.Equal(t, http.StatusCreated, w.Code)
		var response models.Transaction
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, models.StatusUnconfirmed, response.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWalletHandler_RequestMove(t *testing.T) {
	t.Run("self transfer maps to 400", func(t *testing.T) {
		handler, _, cleanup := newHandlerFixture(t)
		defer cleanup()

		body := `{"to":"alice","symbol":"BTC","amount":"1"}`
		r := authenticated(httptest.NewRequest("POST", "/moves", bytes.NewBufferString(body)), "alice")
		w := httptest.NewRecorder()
		handler.RequestMove(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestWalletHandler_ConfirmTransaction(t *testing.T) {
	router := chi.NewRouter()

	t.Run("invalid id", func(t *testing.T) {
		handler, _, cleanup := newHandlerFixture(t)
		defer cleanup()
		router.Get("/transactions/{id}/confirm", handler.ConfirmTransaction)

		r := httptest.NewRequest("GET", "/transactions/abc/confirm?nonce=x", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("consumes the nonce", func(t *testing.T) {
		handler, mock, cleanup := newHandlerFixture(t)
		defer cleanup()
		router := chi.NewRouter()
		router.Get("/transactions/{id}/confirm", handler.ConfirmTransaction)

		now := time.Now()
		mock.ExpectQuery("SELECT (.+) FROM transactions WHERE tenant = \\$1 AND id = \\$2").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "tenant", "category", "tags", "account", "other_account", "address", "extra",
				"txid", "symbol", "amount", "fee", "comment", "created_at", "updated_at",
				"confirmations", "status", "retries", "admin_confirm", "user_confirm", "nonce",
			}).AddRow(int64(1), "", models.CategoryWithdraw, "", "alice", "", "ext1", "",
				"", "BTC", "-1", "0.001", "", now, now, int64(0), models.StatusUnconfirmed, 3, false, false, "nonce123"))
		mock.ExpectExec("UPDATE transactions").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE transactions SET status").
			WillReturnResult(sqlmock.NewResult(0, 1))

		r := httptest.NewRequest("GET", "/transactions/1/confirm?nonce=nonce123", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWalletHandler_ListTransactions(t *testing.T) {
	handler, mock, cleanup := newHandlerFixture(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM transactions").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant", "category", "tags", "account", "other_account", "address", "extra",
			"txid", "symbol", "amount", "fee", "comment", "created_at", "updated_at",
			"confirmations", "status", "retries", "admin_confirm", "user_confirm", "nonce",
		}).AddRow(int64(1), "", models.CategoryDeposit, "", "alice", "", "addr1", "",
			"tx1", "BTC", "1", "0", "", now, now, int64(3), models.StatusDone, 0, false, false, ""))

	r := authenticated(httptest.NewRequest("GET", "/transactions?symbol=BTC", nil), "alice")
	w := httptest.NewRecorder()
	handler.ListTransactions(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	var response map[string]interface{}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, float64(1), response["count"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
