package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/coinvault/backend/internal/adapters"
	"github.com/coinvault/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func newDepositFixture(t *testing.T) (*DepositService, sqlmock.Sqlmock, *recordingNotifier, func()) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	registry := adapters.NewRegistry()
	assert.NoError(t, registry.Register(&fakeAdapter{symbol: "BTC", minConf: 3}))

	notifier := &recordingNotifier{}
	service := NewDepositService(NewLedgerStore(db), registry, notifier, testConfig())
	return service, mock, notifier, func() { db.Close() }
}

func TestDepositService_Ingest(t *testing.T) {
	ctx := context.Background()

	t.Run("drops events for unknown addresses", func(t *testing.T) {
		service, mock, notifier, cleanup := newDepositFixture(t)
		defer cleanup()

		mock.ExpectQuery("SELECT tenant, account FROM addresses").
			WithArgs("BTC", "unknown", "").
			WillReturnError(sql.ErrNoRows)

		err := service.Ingest(ctx, &models.DepositEvent{
			Symbol:  "BTC",
			TxID:    "tx1",
			Address: "unknown",
			Amount:  decimal.RequireFromString("1.0"),
		})
		assert.NoError(t, err)
		assert.Empty(t, notifier.deposits)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("new deposit inserts and notifies once", func(t *testing.T) {
		service, mock, notifier, cleanup := newDepositFixture(t)
		defer cleanup()

		mock.ExpectQuery("SELECT tenant, account FROM addresses").
			WithArgs("BTC", "addr1", "").
			WillReturnRows(sqlmock.NewRows([]string{"tenant", "account"}).AddRow("", "alice"))
		// No existing row with this key, so the update misses.
		mock.ExpectExec("UPDATE transactions").
			WithArgs(int64(1), models.StatusPending, sqlmock.AnyArg(), "tx1", "addr1", "BTC").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("INSERT INTO transactions").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

		err := service.Ingest(ctx, &models.DepositEvent{
			Symbol:        "BTC",
			TxID:          "tx1",
			Address:       "addr1",
			Amount:        decimal.RequireFromString("1.0"),
			Confirmations: 1,
		})
		assert.NoError(t, err)
		assert.Len(t, notifier.deposits, 1)
		assert.Equal(t, models.StatusPending, notifier.deposits[0].Status)
		assert.Equal(t, "alice", notifier.deposits[0].Account)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("replayed event updates without re-notifying", func(t *testing.T) {
		service, mock, notifier, cleanup := newDepositFixture(t)
		defer cleanup()

		mock.ExpectQuery("SELECT tenant, account FROM addresses").
			WithArgs("BTC", "addr1", "").
			WillReturnRows(sqlmock.NewRows([]string{"tenant", "account"}).AddRow("", "alice"))
		// Confirmations now at the threshold, status flips to DONE.
		mock.ExpectExec("UPDATE transactions").
			WithArgs(int64(3), models.StatusDone, sqlmock.AnyArg(), "tx1", "addr1", "BTC").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := service.Ingest(ctx, &models.DepositEvent{
			Symbol:        "BTC",
			TxID:          "tx1",
			Address:       "addr1",
			Amount:        decimal.RequireFromString("1.0"),
			Confirmations: 3,
		})
		assert.NoError(t, err)
		assert.Empty(t, notifier.deposits)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDepositService_RunDiscovery(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	registry := adapters.NewRegistry()
	adapter := &fakeAdapter{
		symbol:  "BTC",
		minConf: 3,
		discovered: []*models.DepositEvent{
			{Symbol: "BTC", TxID: "tx9", Address: "unknown", Amount: decimal.RequireFromString("0.5")},
		},
	}
	assert.NoError(t, registry.Register(adapter))

	notifier := &recordingNotifier{}
	service := NewDepositService(NewLedgerStore(db), registry, notifier, testConfig())

	// The discovered event targets an address this system never issued.
	mock.ExpectQuery("SELECT tenant, account FROM addresses").
		WithArgs("BTC", "unknown", "").
		WillReturnError(sql.ErrNoRows)

	service.RunDiscovery(context.Background())
	assert.Empty(t, notifier.deposits)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDepositService_EnsureDepositAddress(t *testing.T) {
	ctx := context.Background()

	t.Run("returns existing current address", func(t *testing.T) {
		service, mock, _, cleanup := newDepositFixture(t)
		defer cleanup()

		mock.ExpectQuery("SELECT id, tenant, account, symbol, address, extra, created_at, status").
			WithArgs("", "alice", "BTC", models.AddressCurrent).
			WillReturnRows(sqlmock.NewRows([]string{"id", "tenant", "account", "symbol", "address", "extra", "created_at", "status"}).
				AddRow(int64(1), "", "alice", "BTC", "addr1", "", time.Now(), models.AddressCurrent))

		addr, err := service.EnsureDepositAddress(ctx, "", "alice", "BTC", false)
		assert.NoError(t, err)
		assert.Equal(t, "addr1", addr.Address)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("issues a fresh address when none exists", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		registry := adapters.NewRegistry()
		assert.NoError(t, registry.Register(&fakeAdapter{symbol: "BTC", newAddress: "addr-new"}))
		service := NewDepositService(NewLedgerStore(db), registry, &recordingNotifier{}, testConfig())

		mock.ExpectQuery("SELECT id, tenant, account, symbol, address, extra, created_at, status").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("INSERT INTO addresses").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(2)))

		addr, err := service.EnsureDepositAddress(ctx, "", "alice", "BTC", false)
		assert.NoError(t, err)
		assert.Equal(t, "addr-new", addr.Address)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("forced rotation demotes the old addresses", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		registry := adapters.NewRegistry()
		assert.NoError(t, registry.Register(&fakeAdapter{symbol: "BTC", newAddress: "addr-rotated"}))
		service := NewDepositService(NewLedgerStore(db), registry, &recordingNotifier{}, testConfig())

		mock.ExpectExec("UPDATE addresses SET status").
			WithArgs(models.AddressOld, "", "alice", "BTC", models.AddressCurrent).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO addresses").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))

		addr, err := service.EnsureDepositAddress(ctx, "", "alice", "BTC", true)
		assert.NoError(t, err)
		assert.Equal(t, "addr-rotated", addr.Address)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
