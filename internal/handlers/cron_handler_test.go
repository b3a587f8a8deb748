package handlers

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/coinvault/backend/internal/adapters"
	"github.com/coinvault/backend/internal/services"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/argon2"
)

func setCronToken(token string) {
	viper.Set("argon2.time", 1)
	viper.Set("argon2.memory", 1024)
	viper.Set("argon2.threads", 1)
	viper.Set("argon2.key_length", 32)

	salt := []byte("0123456789abcdef")
	hash := argon2.IDKey([]byte(token), salt, 1, 1024, 1, 32)
	viper.Set("cron.token_hash",
		base64.StdEncoding.EncodeToString(salt)+"$"+base64.StdEncoding.EncodeToString(hash))
}

func newCronFixture(t *testing.T) (*CronHandler, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	registry := adapters.NewRegistry()
	cfg := testWalletConfig()
	store := services.NewLedgerStore(db)
	notifier := services.NewQueueNotifier(nil)
	deposits := services.NewDepositService(store, registry, notifier, cfg)
	settlement := services.NewSettlementService(store, registry, deposits, notifier, nil, cfg)

	return NewCronHandler(settlement), mock, func() { db.Close() }
}

func TestCronHandler_TriggerSettlement(t *testing.T) {
	setCronToken("secret-token")

	t.Run("missing token", func(t *testing.T) {
		handler, _, cleanup := newCronFixture(t)
		defer cleanup()

		r := httptest.NewRequest("POST", "/cron", nil)
		w := httptest.NewRecorder()
		handler.TriggerSettlement(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong token", func(t *testing.T) {
		handler, _, cleanup := newCronFixture(t)
		defer cleanup()

		r := httptest.NewRequest("POST", "/cron", nil)
		r.Header.Set("Authorization", "Bearer wrong-token")
		w := httptest.NewRecorder()
		handler.TriggerSettlement(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid token runs a pass", func(t *testing.T) {
		handler, mock, cleanup := newCronFixture(t)
		defer cleanup()

		mock.ExpectQuery("SELECT DISTINCT tenant FROM transactions").
			WillReturnRows(sqlmock.NewRows([]string{"tenant"}))

		r := httptest.NewRequest("POST", "/cron", nil)
		r.Header.Set("Authorization", "Bearer secret-token")
		w := httptest.NewRecorder()
		handler.TriggerSettlement(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
