package orders

import (
	"time"

	"github.com/imrishuroy/go-gamestore-orderflow/internal/inventory"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/money"
)

// Payment statuses
const (
	StatusPending   = "Pending"
	StatusCompleted = "Completed"
	StatusFailed    = "Failed"
	StatusRefunded  = "Refunded"
)

type PaymentMethod string

const (
	MethodWallet     PaymentMethod = "Wallet"
	MethodCreditCard PaymentMethod = "CreditCard"
	MethodPayPal     PaymentMethod = "PayPal"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodWallet, MethodCreditCard, MethodPayPal:
		return true
	}
	return false
}

// Secondary indexes.
const (
	// CustomerIndex on orders: hash customer_id, range order_date.
	CustomerIndex = "customer_id-order_date-index"
	// OrderIndex on order details: hash order_id.
	OrderIndex = "order_id-index"
)

// Order represents the item stored in the Orders DynamoDB table.
type Order struct {
	OrderID       string        `dynamodbav:"order_id" json:"order_id"` // PK
	CustomerID    string        `dynamodbav:"customer_id" json:"customer_id"`
	OrderDate     time.Time     `dynamodbav:"order_date" json:"order_date"`
	TotalValue    money.Money   `dynamodbav:"total_value" json:"total_value"`
	PaymentMethod PaymentMethod `dynamodbav:"payment_method" json:"payment_method"`
	TransactionID string        `dynamodbav:"transaction_id" json:"transaction_id"`
	Status        string        `dynamodbav:"payment_status" json:"payment_status"` // Pending | Completed | Failed | Refunded
	FailureReason string        `dynamodbav:"failure_reason,omitempty" json:"failure_reason,omitempty"`
	// Items is the legacy embedded line-item shape. It is read for
	// aggregation only; new orders never write it.
	Items     []LegacyItem  `dynamodbav:"items,omitempty" json:"-"`
	Details   []OrderDetail `dynamodbav:"-" json:"details"`
	CreatedAt time.Time     `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt time.Time     `dynamodbav:"updated_at" json:"updated_at"`
}

// LegacyItem is one embedded line item on orders written by the retired
// checkout flow. Its key code was never recorded in the key inventory.
type LegacyItem struct {
	GameID  string      `dynamodbav:"game_id"`
	KeyCode string      `dynamodbav:"key_code"`
	Price   money.Money `dynamodbav:"price"`
}

// OrderDetail is one fulfilled (game, key, price) tuple of a Completed order.
type OrderDetail struct {
	DetailID  string      `dynamodbav:"detail_id" json:"detail_id"` // PK
	OrderID   string      `dynamodbav:"order_id" json:"order_id"`
	GameID    string      `dynamodbav:"game_id" json:"game_id"`
	GameKeyID string      `dynamodbav:"game_key_id" json:"game_key_id"`
	Value     money.Money `dynamodbav:"value" json:"value"`
	CreatedAt time.Time   `dynamodbav:"created_at" json:"created_at"`
}

// LibraryEntry is an owned key joined with its game.
type LibraryEntry struct {
	GameID           string                     `json:"game_id"`
	Title            string                     `json:"title"`
	PublisherID      string                     `json:"publisher_id"`
	KeyID            string                     `json:"key_id"`
	KeyCode          string                     `json:"key_code"`
	GameVersion      string                     `json:"game_version"`
	ActivationStatus inventory.ActivationStatus `json:"activation_status"`
	OwnershipDate    *time.Time                 `json:"ownership_date,omitempty"`
}
