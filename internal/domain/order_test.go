package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrder_IsTerminal(t *testing.T) {
	tests := []struct {
		status   string
		expected bool
	}{
		{OrderStatusNew, false},
		{OrderStatusPartiallyFilled, false},
		{OrderStatusFilled, true},
		{OrderStatusCanceled, true},
		{OrderStatusRejected, true},
		{OrderStatusExpired, true},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			assert.Equal(t, tt.expected, Order{Status: tt.status}.IsTerminal())
		})
	}
}

func TestPendingTag(t *testing.T) {
	tag := NewPendingTag("BTC", "USDT", 42)
	assert.Equal(t, PendingTag{Symbol: "BTCUSDT", OrderID: 42}, tag)
	assert.Equal(t, "BTCUSDT#42", tag.String())
	assert.Equal(t, "BNBUSDT", NewPendingTag("bnb", "usdt", 1).Symbol)
}

func TestPair(t *testing.T) {
	p := NewPair("btc", "usdt")
	assert.Equal(t, "BTC_USDT", p.String())
	assert.Equal(t, "BTCUSDT", p.Symbol())
}
