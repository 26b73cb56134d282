package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalanceBroadcaster_PublishSubscribe(t *testing.T) {
	b := NewBalanceBroadcaster(1)

	first := b.Subscribe()
	second := b.Subscribe()
	assert.Equal(t, 2, b.Subscribers())

	change := BalanceChange{Time: time.Unix(1700000000, 0), Reason: "balanceUpdate", Assets: []string{"USDT"}}
	b.Publish(change)

	assert.Equal(t, change, <-first)
	assert.Equal(t, change, <-second)

	b.Unsubscribe(first)
	b.Unsubscribe(first)
	assert.Equal(t, 1, b.Subscribers())

	_, open := <-first
	assert.False(t, open)
}

func TestBalanceBroadcaster_DropsForSlowReader(t *testing.T) {
	b := NewBalanceBroadcaster(1)
	ch := b.Subscribe()

	b.Publish(BalanceChange{Reason: "first"})
	b.Publish(BalanceChange{Reason: "second"})

	got := <-ch
	assert.Equal(t, "first", got.Reason)

	select {
	case extra := <-ch:
		require.Failf(t, "unexpected change", "%+v", extra)
	default:
	}
}
