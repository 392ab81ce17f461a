package validation

import "time"

// DateLayout is the calendar-day format of query dates.
const DateLayout = "2006-01-02"

// CreateOrderRequest is the payload for POST /customers/me/orders.
// The buyer comes from the caller's identity, never from the body.
type CreateOrderRequest struct {
	GameIDs       []string `json:"game_ids" validate:"required,min=1,max=25,unique,dive,required"`
	PaymentMethod string   `json:"payment_method" validate:"required,oneof=Wallet CreditCard PayPal"`
}

// CreateKeysRequest is the payload for POST /publisher/games/:gameId/keys.
type CreateKeysRequest struct {
	Version  string `json:"version" validate:"required,max=32"`
	Quantity int    `json:"quantity" validate:"required,min=1,max=500"`
}

// DateRange is an optional inclusive window of calendar days (UTC).
type DateRange struct {
	From string `form:"from" validate:"omitempty,datetime=2006-01-02"`
	To   string `form:"to" validate:"omitempty,datetime=2006-01-02"`
}

// Bounds returns the window as instants: From at 00:00 and To at the last
// nanosecond of its day. Missing ends are zero. Call after validation.
func (r DateRange) Bounds() (from, to time.Time) {
	if r.From != "" {
		from, _ = time.Parse(DateLayout, r.From)
	}
	if r.To != "" {
		t, _ := time.Parse(DateLayout, r.To)
		to = t.Add(24*time.Hour - time.Nanosecond)
	}
	return from, to
}

// RevenueQuery is the query of GET /publisher/dashboard/revenue.
type RevenueQuery struct {
	DateRange
	Granularity string   `form:"granularity" validate:"omitempty,oneof=day month year"`
	GameIDs     []string `form:"gameId" validate:"omitempty,max=100,dive,required"`
}

// SummaryQuery is the query of GET /publisher/dashboard/summary.
type SummaryQuery struct {
	DateRange
	Top int `form:"top" validate:"omitempty,min=1,max=100"`
}

// TopPublishersQuery is the query of GET /admin/dashboard/top-publishers.
type TopPublishersQuery struct {
	DateRange
	N int `form:"n" validate:"omitempty,min=1,max=100"`
}
