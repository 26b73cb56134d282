package main

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadEvents(t *testing.T) {
	input := ": ping\n\n" +
		"event: balances\ndata: {\"balances\":{}}\n\n" +
		"id: 3\nevent: order\ndata: {\"id\":1}\n\n" +
		"data: bare\n\n" +
		"event: order\n\n"

	var got []string
	err := readEvents(strings.NewReader(input), func(event string) { got = append(got, event) })
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"balances", "order", "message"}, got)
}

func TestResolveTargets(t *testing.T) {
	targets, err := resolveTargets("http://localhost:8080/", "balances, orders")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"balances": "http://localhost:8080/api/v1/balances/stream",
		"orders":   "http://localhost:8080/api/v1/orders/stream",
	}, targets)

	_, err = resolveTargets("http://localhost:8080", "candles")
	assert.Error(t, err)

	_, err = resolveTargets("http://localhost:8080", " , ")
	assert.Error(t, err)
}

func TestStats(t *testing.T) {
	s := newStats()
	s.connected("orders")
	s.event("orders", "order")
	s.event("orders", "order")
	s.connectErr("balances")

	assert.Equal(t,
		"balances{connected=0 connect_errs=1 stream_errs=0 events=map[]} orders{connected=1 connect_errs=0 stream_errs=0 events=map[order:2]}",
		s.String())
}
