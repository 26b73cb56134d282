package stream

import (
	"encoding/json"

	"github.com/vadiminshakov/martistream/internal/domain"
)

// Event type names as sent by the exchange.
const (
	EventExecutionReport         = "executionReport"
	EventBalanceUpdate           = "balanceUpdate"
	EventOutboundAccountPosition = "outboundAccountPosition"
	EventOutboundAccountInfo     = "outboundAccountInfo"
	EventMiniTicker              = "24hrMiniTicker"
	EventBookTicker              = "bookTicker"
)

// Event is a decoded data event. The set of variants is closed; anything the transport
// cannot decode arrives as Unknown.
type Event interface {
	EventType() string
	event()
}

// ExecutionReport is an order update from the user-data stream.
type ExecutionReport struct {
	Symbol                   string
	Side                     string
	OrderType                string
	OrderID                  int64
	CumulativeQuoteQuantity  float64
	CumulativeFilledQuantity float64
	Status                   string
	Price                    float64
	TransactionTime          int64
}

// Order returns the order state carried by the report.
func (e ExecutionReport) Order() domain.Order {
	return domain.Order{
		ID:                       e.OrderID,
		Symbol:                   e.Symbol,
		Side:                     e.Side,
		Type:                     e.OrderType,
		Status:                   e.Status,
		Price:                    e.Price,
		CumulativeFilledQuantity: e.CumulativeFilledQuantity,
		CumulativeQuoteQuantity:  e.CumulativeQuoteQuantity,
		TransactionTime:          e.TransactionTime,
	}
}

// BalanceUpdate is a balance delta of one asset.
type BalanceUpdate struct {
	Asset string
	Delta float64
}

// AssetBalance is one entry of an account snapshot.
type AssetBalance struct {
	Asset  string
	Free   float64
	Locked float64
}

// AccountPosition is an account balance snapshot. Type is either outboundAccountPosition
// or the legacy outboundAccountInfo.
type AccountPosition struct {
	Type     string
	Balances []AssetBalance
}

// MiniTicker is one entry of the all-market mini ticker stream.
type MiniTicker struct {
	Symbol     string
	ClosePrice float64
}

// MiniTickers is a batch of mini tickers.
type MiniTickers []MiniTicker

// BookTicker is the best bid and ask of one symbol.
type BookTicker struct {
	Symbol  string
	BestBid float64
	BestAsk float64
}

// Unknown is a payload of an event type the transport does not decode.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (ExecutionReport) EventType() string   { return EventExecutionReport }
func (BalanceUpdate) EventType() string     { return EventBalanceUpdate }
func (e AccountPosition) EventType() string { return e.Type }
func (MiniTickers) EventType() string       { return EventMiniTicker }
func (BookTicker) EventType() string        { return EventBookTicker }
func (e Unknown) EventType() string         { return e.Type }

func (ExecutionReport) event() {}
func (BalanceUpdate) event()   {}
func (AccountPosition) event() {}
func (MiniTickers) event()     {}
func (BookTicker) event()      {}
func (Unknown) event()         {}
