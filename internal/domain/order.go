package domain

// Order status values reported by the exchange.
const (
	OrderStatusNew             = "NEW"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCanceled        = "CANCELED"
	OrderStatusRejected        = "REJECTED"
	OrderStatusExpired         = "EXPIRED"
)

// Order last known state of an exchange order.
type Order struct {
	// ID exchange order id.
	ID     int64  `json:"id"`
	Symbol string `json:"symbol"`
	Side   string `json:"side"`
	Type   string `json:"type"`
	Status string `json:"status"`
	// Price limit price, zero for market orders.
	Price float64 `json:"price"`
	// CumulativeFilledQuantity base quantity filled so far.
	CumulativeFilledQuantity float64 `json:"cumulative_filled_quantity"`
	// CumulativeQuoteQuantity quote quantity transacted so far.
	CumulativeQuoteQuantity float64 `json:"cumulative_quote_quantity"`
	// TransactionTime exchange time of the last update in milliseconds.
	TransactionTime int64 `json:"transaction_time"`
}

// IsTerminal reports whether the order can no longer change.
func (o Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}
