package orderguard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/martistream/internal/domain"
)

func acquireWithin(t *testing.T, r *Registry, d time.Duration) *Guard {
	t.Helper()

	got := make(chan *Guard, 1)
	go func() { got <- r.Acquire() }()

	select {
	case g := <-got:
		return g
	case <-time.After(d):
		t.Fatal("submission lock was not released")
		return nil
	}
}

func TestGuard_EnterAndClose(t *testing.T) {
	r := NewRegistry()

	g := r.Acquire()
	g.SetOrder("BTC", "USDT", 42)
	scope := g.Enter()

	assert.Equal(t, domain.PendingTag{Symbol: "BTCUSDT", OrderID: 42}, scope.Tag())
	assert.Equal(t, []domain.PendingTag{{Symbol: "BTCUSDT", OrderID: 42}}, r.Pending())

	scope.Close()
	scope.Close()
	assert.Empty(t, r.Pending())
}

func TestGuard_ConcurrentSubmissionsAreSerialized(t *testing.T) {
	const n = 32

	var (
		r       = NewRegistry()
		inside  atomic.Int32
		overlap atomic.Bool
		wg      sync.WaitGroup
	)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()

			g := r.Acquire()
			if inside.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(100 * time.Microsecond)
			inside.Add(-1)

			g.SetOrder("ETH", "USDT", id)
			g.Enter()
		}(int64(i))
	}
	wg.Wait()

	assert.False(t, overlap.Load(), "two submissions held the lock at once")

	pending := r.Pending()
	require.Len(t, pending, n)
	for i, tag := range pending {
		assert.Equal(t, int64(i), tag.OrderID)
	}
}

func TestGuard_EnterWithoutOrderPanicsAndReleases(t *testing.T) {
	r := NewRegistry()

	g := r.Acquire()
	assert.PanicsWithValue(t, ErrOrderNotSet, func() { g.Enter() })

	next := acquireWithin(t, r, time.Second)
	next.Abort()
	assert.Empty(t, r.Pending())
}

func TestGuard_EnterTwicePanics(t *testing.T) {
	r := NewRegistry()

	g := r.Acquire()
	g.SetOrder("BTC", "USDT", 1)
	g.Enter()

	assert.PanicsWithValue(t, ErrGuardReleased, func() { g.Enter() })
}

func TestGuard_Abort(t *testing.T) {
	r := NewRegistry()

	g := r.Acquire()
	g.Abort()
	g.Abort()

	next := acquireWithin(t, r, time.Second)
	next.SetOrder("BTC", "USDT", 7)
	next.Enter()

	// no-op after Enter, must not unlock someone else's lock
	next.Abort()

	holder := r.Acquire()
	acquired := make(chan struct{})
	go func() {
		r.Acquire().Abort()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("abort after enter released a lock it did not hold")
	case <-time.After(30 * time.Millisecond):
	}

	holder.Abort()
	<-acquired
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	scope, err := r.Register(context.Background(), "BNB", "USDT", func(ctx context.Context) (int64, error) {
		return 99, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.PendingTag{{Symbol: "BNBUSDT", OrderID: 99}}, r.Pending())

	scope.Close()
	assert.Empty(t, r.Pending())
}

func TestRegistry_RegisterPlacementError(t *testing.T) {
	r := NewRegistry()
	placeErr := errors.New("insufficient balance")

	scope, err := r.Register(context.Background(), "BNB", "USDT", func(ctx context.Context) (int64, error) {
		return 0, placeErr
	})
	require.ErrorIs(t, err, placeErr)
	assert.Nil(t, scope)
	assert.Empty(t, r.Pending())

	acquireWithin(t, r, time.Second).Abort()
}

func TestRegistry_PendingWaitsForInFlightSubmission(t *testing.T) {
	r := NewRegistry()
	g := r.Acquire()

	snapshot := make(chan []domain.PendingTag, 1)
	go func() { snapshot <- r.Pending() }()

	select {
	case <-snapshot:
		t.Fatal("pending snapshot taken while a submission held the lock")
	case <-time.After(30 * time.Millisecond):
	}

	g.SetOrder("BTC", "USDT", 5)
	g.Enter()

	select {
	case tags := <-snapshot:
		assert.Equal(t, []domain.PendingTag{{Symbol: "BTCUSDT", OrderID: 5}}, tags)
	case <-time.After(time.Second):
		t.Fatal("pending snapshot never completed")
	}
}
