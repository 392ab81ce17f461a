package idempotency

import "time"

// Status values for idempotency entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// IdempotencyRecord is the shape persisted in the idempotency DynamoDB table.
// It is created in the same transaction as the Pending order it guards.
type IdempotencyRecord struct {
	IdempotencyKey string    `dynamodbav:"idempotency_key"` // PK
	Status         string    `dynamodbav:"status"`
	OrderID        string    `dynamodbav:"order_id,omitempty"`
	CustomerID     string    `dynamodbav:"customer_id,omitempty"`
	RequestHash    string    `dynamodbav:"request_hash,omitempty"`    // fingerprint of the purchase request
	ResponseBody   string    `dynamodbav:"response_body,omitempty"`   // small responses only
	ResponseStatus int       `dynamodbav:"response_status,omitempty"` // e.g., 201, 402
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at"` // TTL epoch seconds
	Note           string    `dynamodbav:"note,omitempty"`
}
