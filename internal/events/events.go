// Package events defines the order messages the API publishes to SQS and
// the worker consumes.
package events

import (
	"time"

	"github.com/imrishuroy/go-gamestore-orderflow/internal/money"
)

const (
	TypeOrderCompleted = "order.completed"
	TypeOrderFailed    = "order.failed"
)

// OrderEvent is the payload sent from API -> SQS -> Worker.
type OrderEvent struct {
	Type           string      `json:"type"`
	OrderID        string      `json:"order_id"`
	CustomerID     string      `json:"customer_id"`
	TransactionID  string      `json:"transaction_id"`
	PaymentMethod  string      `json:"payment_method"`
	TotalValue     money.Money `json:"total_value"`
	Items          []Item      `json:"items,omitempty"`
	Reason         string      `json:"reason,omitempty"`
	OrphanedKeyIDs []string    `json:"orphaned_key_ids,omitempty"`
	CorrelationID  string      `json:"correlation_id,omitempty"`
	OccurredAt     time.Time   `json:"occurred_at"`
}

// Item is one sold key of a completed order.
type Item struct {
	GameID string      `json:"game_id"`
	KeyID  string      `json:"key_id"`
	Value  money.Money `json:"value"`
}
