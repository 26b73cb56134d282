// Package cache holds the locally cached view of account state and market prices.
//
// The dispatch goroutine is the only writer of every cache. Balances are guarded by a dual-mode lock
// because callers open scoped read-modify access to them; prices and orders are single-writer maps
// read under an RWMutex with last-write-wins semantics.
package cache

import (
	"sort"

	"github.com/vadiminshakov/martistream/internal/domain"
)

// Quote is the cached price view of one symbol. Zero fields are unknown.
type Quote struct {
	Symbol string  `json:"symbol"`
	Last   float64 `json:"last,omitempty"`
	Bid    float64 `json:"bid,omitempty"`
	Ask    float64 `json:"ask,omitempty"`
}

// Cache is built once per process and shared by pointer.
type Cache struct {
	balances *Balances
	tickers  *store[string, float64]
	bids     *store[string, float64]
	asks     *store[string, float64]
	orders   *store[int64, domain.Order]
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		balances: newBalances(),
		tickers:  newStore[string, float64](),
		bids:     newStore[string, float64](),
		asks:     newStore[string, float64](),
		orders:   newStore[int64, domain.Order](),
	}
}

// Balances returns the shared balance cache.
func (c *Cache) Balances() *Balances {
	return c.balances
}

// TickerPrice returns the last traded price of symbol.
func (c *Cache) TickerPrice(symbol string) (float64, bool) {
	return c.tickers.get(symbol)
}

// BidPrice returns the best bid of symbol. Populated only in order-book price mode.
func (c *Cache) BidPrice(symbol string) (float64, bool) {
	return c.bids.get(symbol)
}

// AskPrice returns the best ask of symbol. Populated only in order-book price mode.
func (c *Cache) AskPrice(symbol string) (float64, bool) {
	return c.asks.get(symbol)
}

// SetTickerPrice stores the last traded price of symbol.
func (c *Cache) SetTickerPrice(symbol string, price float64) {
	c.tickers.set(symbol, price)
}

// SetBookTicker stores the best bid and ask of symbol.
func (c *Cache) SetBookTicker(symbol string, bid, ask float64) {
	c.asks.set(symbol, ask)
	c.bids.set(symbol, bid)
}

// Quote returns every cached price of symbol.
func (c *Cache) Quote(symbol string) (Quote, bool) {
	q := Quote{Symbol: symbol}
	last, okLast := c.tickers.get(symbol)
	bid, okBid := c.bids.get(symbol)
	ask, okAsk := c.asks.get(symbol)
	if !okLast && !okBid && !okAsk {
		return q, false
	}

	q.Last, q.Bid, q.Ask = last, bid, ask
	return q, true
}

// Quotes returns the cached prices of every known symbol ordered by symbol.
func (c *Cache) Quotes() []Quote {
	bySymbol := make(map[string]*Quote, c.tickers.len())
	quote := func(symbol string) *Quote {
		q, ok := bySymbol[symbol]
		if !ok {
			q = &Quote{Symbol: symbol}
			bySymbol[symbol] = q
		}
		return q
	}

	for s, p := range c.tickers.snapshot() {
		quote(s).Last = p
	}
	for s, p := range c.bids.snapshot() {
		quote(s).Bid = p
	}
	for s, p := range c.asks.snapshot() {
		quote(s).Ask = p
	}

	out := make([]Quote, 0, len(bySymbol))
	for _, q := range bySymbol {
		out = append(out, *q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })

	return out
}

// Order returns the cached order with the given exchange id.
func (c *Cache) Order(id int64) (domain.Order, bool) {
	return c.orders.get(id)
}

// UpsertOrder stores order under its id, replacing any previous state.
func (c *Cache) UpsertOrder(order domain.Order) {
	c.orders.set(order.ID, order)
}

// Orders returns every cached order ordered by id.
func (c *Cache) Orders() []domain.Order {
	snap := c.orders.snapshot()
	out := make([]domain.Order, 0, len(snap))
	for _, o := range snap {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}
