package inventory

import "time"

// BusinessStatus is the commercial lifecycle state of a key.
type BusinessStatus string

const (
	StatusAvailable BusinessStatus = "Available"
	StatusReserved  BusinessStatus = "Reserved"
	StatusSold      BusinessStatus = "Sold"
)

type ActivationStatus string

const (
	NotActivated ActivationStatus = "NotActivated"
	Activated    ActivationStatus = "Activated"
)

// Secondary indexes on the game keys table.
const (
	// StatusIndex: hash game_id, range business_status.
	StatusIndex = "game_id-business_status-index"
	// OwnerIndex: hash owner_customer_id, range game_id. Sparse: only Sold keys carry an owner.
	OwnerIndex = "owner_customer_id-game_id-index"
)

// GameKey is one sellable license unit, stored in the game keys table.
type GameKey struct {
	KeyID            string           `dynamodbav:"key_id" json:"key_id"` // PK
	GameID           string           `dynamodbav:"game_id" json:"game_id"`
	GameVersion      string           `dynamodbav:"game_version" json:"game_version"`
	KeyCode          string           `dynamodbav:"key_code" json:"key_code"`
	BusinessStatus   BusinessStatus   `dynamodbav:"business_status" json:"business_status"`
	ActivationStatus ActivationStatus `dynamodbav:"activation_status" json:"activation_status"`
	OwnerCustomerID  string           `dynamodbav:"owner_customer_id,omitempty" json:"owner_customer_id,omitempty"`
	OwnershipDate    *time.Time       `dynamodbav:"ownership_date,omitempty" json:"ownership_date,omitempty"`
	ReservedOrderID  string           `dynamodbav:"reserved_order_id,omitempty" json:"-"`
	ReservedAt       *time.Time       `dynamodbav:"reserved_at,omitempty" json:"-"`
	CreatedAt        time.Time        `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `dynamodbav:"updated_at" json:"updated_at"`
}

// keyCodeGuard claims a key code within one game; its PK is "<game_id>#<key_code>".
type keyCodeGuard struct {
	CodeRef string `dynamodbav:"code_ref"` // PK
	GameID  string `dynamodbav:"game_id"`
	KeyID   string `dynamodbav:"key_id"`
}

// ownershipClaim marks a game as owned by a customer; its PK is
// "<customer_id>#<game_id>".
type ownershipClaim struct {
	OwnershipRef string    `dynamodbav:"ownership_ref"` // PK
	CustomerID   string    `dynamodbav:"customer_id"`
	GameID       string    `dynamodbav:"game_id"`
	KeyID        string    `dynamodbav:"key_id"`
	OrderID      string    `dynamodbav:"order_id"`
	CreatedAt    time.Time `dynamodbav:"created_at"`
}

// Counts is the key-status breakdown of one game.
type Counts struct {
	Available int `json:"available"`
	Sold      int `json:"sold"`
	Reserved  int `json:"reserved"`
	Total     int `json:"total"`
}

func (c *Counts) add(s BusinessStatus) {
	switch s {
	case StatusAvailable:
		c.Available++
	case StatusReserved:
		c.Reserved++
	case StatusSold:
		c.Sold++
	}
	c.Total++
}
