package domain

import "fmt"

// PendingTag identity of an order submission that must be re-verified after a stream reconnect.
type PendingTag struct {
	// Symbol concatenated pair symbol, e.g. BTCUSDT.
	Symbol  string `json:"symbol"`
	OrderID int64  `json:"order_id"`
}

// NewPendingTag builds a tag from the origin and target symbols of an order.
func NewPendingTag(originSymbol, targetSymbol string, orderID int64) PendingTag {
	return PendingTag{Symbol: NewPair(originSymbol, targetSymbol).Symbol(), OrderID: orderID}
}

// String returns the string representation.
func (t PendingTag) String() string {
	return fmt.Sprintf("%s#%d", t.Symbol, t.OrderID)
}
