package common

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType denotes basic order types.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// OrderRequest captures an order intent to be sent to a venue.
type OrderRequest struct {
	Symbol   string
	Side     Side
	Type     OrderType
	Qty      float64
	Price    float64 // required for LIMIT
	ClientID string  // optional client order id
}

// OrderResult returns the venue ack plus fill details.
type OrderResult struct {
	OrderID     string
	ClientID    string
	Status      OrderStatus
	FilledQty   float64
	FilledPrice float64
	Fee         float64
}

// Filled reports whether the order fully executed.
func (r OrderResult) Filled() bool {
	return r.Status == StatusFilled
}
