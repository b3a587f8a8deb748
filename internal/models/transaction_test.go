package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTransaction_MovePrefix(t *testing.T) {
	send := &Transaction{Category: CategoryMove, TxID: "move-abc-send"}
	assert.Equal(t, "move-abc", send.MovePrefix())

	receive := &Transaction{Category: CategoryMove, TxID: "move-abc-receive"}
	assert.Equal(t, "move-abc", receive.MovePrefix())

	withdraw := &Transaction{Category: CategoryWithdraw, TxID: "move-abc-send"}
	assert.Equal(t, "", withdraw.MovePrefix())

	malformed := &Transaction{Category: CategoryMove, TxID: "move-abc"}
	assert.Equal(t, "", malformed.MovePrefix())
}

func TestTransaction_Cancellable(t *testing.T) {
	cases := []struct {
		category string
		status   string
		want     bool
	}{
		{CategoryWithdraw, StatusUnconfirmed, true},
		{CategoryWithdraw, StatusPending, true},
		{CategoryWithdraw, StatusDone, false},
		{CategoryWithdraw, StatusFailed, false},
		{CategoryMove, StatusDone, true},
		{CategoryMove, StatusCancelled, false},
	}
	for _, c := range cases {
		tx := &Transaction{Category: c.category, Status: c.status}
		assert.Equal(t, c.want, tx.Cancellable(), "%s/%s", c.category, c.status)
	}
}

func TestTransaction_IsDebit(t *testing.T) {
	debit := &Transaction{Amount: decimal.RequireFromString("-1")}
	assert.True(t, debit.IsDebit())

	credit := &Transaction{Amount: decimal.RequireFromString("1")}
	assert.False(t, credit.IsDebit())
}
