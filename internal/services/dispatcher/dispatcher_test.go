package dispatcher

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vadiminshakov/martistream/internal/cache"
	"github.com/vadiminshakov/martistream/internal/domain"
	"github.com/vadiminshakov/martistream/internal/dualock"
	"github.com/vadiminshakov/martistream/internal/events"
	"github.com/vadiminshakov/martistream/internal/stream"
)

const userDataStream = "user-data"

type fakeTransport struct {
	signals  stream.Queue[stream.Signal]
	events   stream.Queue[stream.Event]
	stopping atomic.Bool
}

func (f *fakeTransport) PopSignal() (stream.Signal, bool) {
	return f.signals.Pop()
}

func (f *fakeTransport) PopEvent() (stream.Event, bool) {
	return f.events.Pop()
}

func (f *fakeTransport) IsStopping() bool {
	return f.stopping.Load()
}

func (f *fakeTransport) StreamInfo(id string) (stream.StreamInfo, bool) {
	switch id {
	case userDataStream:
		return stream.StreamInfo{ID: id, Markets: []string{stream.UserDataMarket}}, true
	case "tickers":
		return stream.StreamInfo{ID: id, Markets: []string{"!miniTicker"}}, true
	default:
		return stream.StreamInfo{}, false
	}
}

func (f *fakeTransport) Stop() {
	f.stopping.Store(true)
}

type fakeReconciler struct {
	calls atomic.Int32
	cache *cache.Cache
}

func (r *fakeReconciler) Reconcile(ctx context.Context) error {
	defer r.calls.Add(1)
	return r.cache.Balances().InvalidateContext(ctx)
}

type recordingJournal struct {
	mu     sync.Mutex
	orders []domain.Order
}

func (j *recordingJournal) Save(order domain.Order) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.orders = append(j.orders, order)
	return nil
}

func (j *recordingJournal) saved() []domain.Order {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]domain.Order(nil), j.orders...)
}

type harness struct {
	transport  *fakeTransport
	cache      *cache.Cache
	reconciler *fakeReconciler
	loop       *Loop
	cancel     context.CancelFunc
	done       chan error
}

func startLoop(t *testing.T, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		transport: &fakeTransport{},
		cache:     cache.New(),
		done:      make(chan error, 1),
	}
	h.reconciler = &fakeReconciler{cache: h.cache}
	h.loop = New(h.transport, h.cache, h.reconciler, append([]Option{WithIdleSleep(time.Millisecond)}, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.loop.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-h.done
	})

	require.Eventually(t, h.cache.Balances().Attached, time.Second, time.Millisecond)

	return h
}

func TestLoop_ExecutionReport(t *testing.T) {
	journal := &recordingJournal{}
	h := startLoop(t, WithJournal(journal))

	h.transport.events.Push(stream.ExecutionReport{
		Symbol:                   "BTCUSDT",
		Side:                     "BUY",
		OrderType:                "LIMIT",
		OrderID:                  42,
		CumulativeQuoteQuantity:  30000,
		CumulativeFilledQuantity: 1,
		Status:                   "FILLED",
		Price:                    30000,
		TransactionTime:          1700000000000,
	})

	var order domain.Order
	require.Eventually(t, func() bool {
		var ok bool
		order, ok = h.cache.Order(42)
		return ok
	}, time.Second, time.Millisecond)

	assert.Equal(t, domain.OrderStatusFilled, order.Status)
	assert.Equal(t, 30000.0, order.Price)
	assert.Equal(t, "BTCUSDT", order.Symbol)
	assert.Equal(t, []domain.Order{order}, journal.saved())
}

func TestLoop_SnapshotThenDelta(t *testing.T) {
	broadcaster := events.NewBalanceBroadcaster(8)
	changes := broadcaster.Subscribe()
	h := startLoop(t, WithBalancePublisher(broadcaster))

	h.transport.events.Push(stream.AccountPosition{
		Type: stream.EventOutboundAccountPosition,
		Balances: []stream.AssetBalance{
			{Asset: "BTC", Free: 0.5},
			{Asset: "USDT", Free: 100},
		},
	})
	h.transport.events.Push(stream.BalanceUpdate{Asset: "USDT", Delta: -100})

	require.Eventually(t, func() bool {
		_, hasUSDT := h.cache.Balances().Get("USDT")
		_, hasBTC := h.cache.Balances().Get("BTC")
		return hasBTC && !hasUSDT
	}, time.Second, time.Millisecond)

	assert.Equal(t, map[string]float64{"BTC": 0.5}, h.cache.Balances().Snapshot())

	first := <-changes
	assert.Equal(t, stream.EventOutboundAccountPosition, first.Reason)
	assert.Equal(t, []string{"BTC", "USDT"}, first.Assets)
	second := <-changes
	assert.Equal(t, stream.EventBalanceUpdate, second.Reason)
	assert.Equal(t, []string{"USDT"}, second.Assets)
}

func TestLoop_PricesAndBookTickers(t *testing.T) {
	h := startLoop(t)

	h.transport.events.Push(stream.MiniTickers{
		{Symbol: "BTCUSDT", ClosePrice: 30000},
		{Symbol: "ETHUSDT", ClosePrice: 2000},
	})
	h.transport.events.Push(stream.BookTicker{Symbol: "BTCUSDT", BestBid: 29999, BestAsk: 30001})

	require.Eventually(t, func() bool {
		_, ok := h.cache.AskPrice("BTCUSDT")
		return ok
	}, time.Second, time.Millisecond)

	last, _ := h.cache.TickerPrice("ETHUSDT")
	assert.Equal(t, 2000.0, last)
	bid, _ := h.cache.BidPrice("BTCUSDT")
	assert.Equal(t, 29999.0, bid)
}

func TestLoop_UserDataConnectReconciles(t *testing.T) {
	h := startLoop(t)

	h.cache.Balances().ApplySnapshot(map[string]float64{"BTC": 1})

	h.transport.signals.Push(stream.Signal{Kind: stream.Connect, StreamID: "tickers"})
	h.transport.signals.Push(stream.Signal{Kind: stream.Disconnect, StreamID: userDataStream})
	h.transport.signals.Push(stream.Signal{Kind: stream.Connect, StreamID: userDataStream})

	require.Eventually(t, func() bool {
		return h.reconciler.calls.Load() == 1
	}, time.Second, time.Millisecond)

	assert.Empty(t, h.cache.Balances().Snapshot())

	// let the loop drain the queue, only the user data connect reconciles
	require.Eventually(t, func() bool { return h.transport.signals.Len() == 0 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), h.reconciler.calls.Load())
}

func TestLoop_UnknownEventIsLoggedAndSkipped(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	h := startLoop(t, WithLogger(zap.New(core)))

	h.transport.events.Push(stream.Unknown{Type: "listStatus", Raw: json.RawMessage(`{"e":"listStatus"}`)})
	h.transport.events.Push(stream.MiniTickers{{Symbol: "BTCUSDT", ClosePrice: 1}})

	require.Eventually(t, func() bool {
		_, ok := h.cache.TickerPrice("BTCUSDT")
		return ok
	}, time.Second, time.Millisecond)

	entries := logs.FilterMessage("unknown event type").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "listStatus", entries[0].ContextMap()["event_type"])
}

func TestLoop_IdleSleepLimitsPolling(t *testing.T) {
	transport := &fakeTransport{}
	c := cache.New()
	loop := New(transport, c, &fakeReconciler{cache: c})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	require.NoError(t, loop.Run(ctx))

	// 10ms idle sleep allows about 20 polls in 200ms
	assert.LessOrEqual(t, loop.Iterations(), uint64(25))
	assert.GreaterOrEqual(t, loop.Iterations(), uint64(5))
}

func TestLoop_TransportStopping(t *testing.T) {
	transport := &fakeTransport{}
	c := cache.New()
	loop := New(transport, c, &fakeReconciler{cache: c}, WithIdleSleep(time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background()) }()

	transport.Stop()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, stream.ErrTransportStopping)
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after transport stop")
	}
}

func TestLoop_RunTwiceFailsToAttach(t *testing.T) {
	h := startLoop(t)

	err := New(h.transport, h.cache, h.reconciler).Run(context.Background())
	assert.ErrorIs(t, err, dualock.ErrAlreadyAttached)
}
