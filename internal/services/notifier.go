package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/coinvault/backend/internal/models"
	"github.com/go-redis/redis/v8"
)

// Notifier hands ledger events to the notification collaborators (email, UI
// widgets). Delivery is best-effort; the ledger never depends on it.
type Notifier interface {
	DepositObserved(ctx context.Context, t *models.Transaction)
	ConfirmRequested(ctx context.Context, t *models.Transaction)
	TransactionFailed(ctx context.Context, t *models.Transaction)
}

type notificationEvent struct {
	Type      string    `json:"type"`
	Tenant    string    `json:"tenant"`
	TxID      string    `json:"txid,omitempty"`
	ID        int64     `json:"id"`
	Account   string    `json:"account"`
	Symbol    string    `json:"symbol"`
	Amount    string    `json:"amount"`
	Status    string    `json:"status"`
	Comment   string    `json:"comment,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// QueueNotifier pushes JSON events onto a Redis list for the out-of-process
// notification consumers. Without Redis it degrades to logging.
type QueueNotifier struct {
	redis *redis.Client
	queue string
}

func NewQueueNotifier(redisClient *redis.Client) *QueueNotifier {
	return &QueueNotifier{redis: redisClient, queue: "wallet:events"}
}

func (n *QueueNotifier) DepositObserved(ctx context.Context, t *models.Transaction) {
	n.push(ctx, models.EventDepositObserved, t)
}

func (n *QueueNotifier) ConfirmRequested(ctx context.Context, t *models.Transaction) {
	n.push(ctx, models.EventConfirmRequested, t)
}

func (n *QueueNotifier) TransactionFailed(ctx context.Context, t *models.Transaction) {
	eventType := models.EventWithdrawFailed
	if t.Category == models.CategoryMove {
		eventType = models.EventMoveFailed
	}
	n.push(ctx, eventType, t)
}

func (n *QueueNotifier) push(ctx context.Context, eventType string, t *models.Transaction) {
	event := notificationEvent{
		Type:      eventType,
		Tenant:    t.Tenant,
		TxID:      t.TxID,
		ID:        t.ID,
		Account:   t.Account,
		Symbol:    t.Symbol,
		Amount:    t.Amount.String(),
		Status:    t.Status,
		Comment:   t.Comment,
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[NOTIFY] Failed to marshal event: %v", err)
		return
	}

	if n.redis == nil {
		log.Printf("[NOTIFY] %s", string(data))
		return
	}

	if err := n.redis.RPush(ctx, n.queue, string(data)).Err(); err != nil {
		log.Printf("[NOTIFY] Failed to queue event %s for %s: %v", eventType, t.TxID, err)
	}
}
