package audit

import (
	"encoding/json"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

type AuditEvent struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	TxID      string    `json:"txid"`
	Account   string    `json:"account"`
	Symbol    string    `json:"symbol"`
	Amount    string    `json:"amount,omitempty"`
	Status    string    `json:"status"`
	Details   any       `json:"details,omitempty"`
}

// AuditLogger writes a JSON trail of every money movement and settlement
// outcome. The optimistic withdrawal pre-commit makes this trail the primary
// input for manual reconciliation after a crash.
type AuditLogger struct{}

func NewAuditLogger() *AuditLogger {
	return &AuditLogger{}
}

func (a *AuditLogger) LogMovement(eventType, txid, account, symbol string, amount decimal.Decimal, status string) {
	a.log(AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		TxID:      txid,
		Account:   account,
		Symbol:    symbol,
		Amount:    amount.String(),
		Status:    status,
	})
}

func (a *AuditLogger) LogError(txid, account, symbol string, err error) {
	a.log(AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: "ERROR",
		TxID:      txid,
		Account:   account,
		Symbol:    symbol,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *AuditLogger) LogOperation(eventType, txid, account, details string) {
	a.log(AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		TxID:      txid,
		Account:   account,
		Status:    "SUCCESS",
		Details:   map[string]string{"details": details},
	})
}

func (a *AuditLogger) log(event AuditEvent) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
