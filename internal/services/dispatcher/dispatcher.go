// Package dispatcher runs the single goroutine that applies stream events to the caches.
package dispatcher

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/martistream/internal/cache"
	"github.com/vadiminshakov/martistream/internal/domain"
	"github.com/vadiminshakov/martistream/internal/events"
	"github.com/vadiminshakov/martistream/internal/stream"
)

const defaultIdleSleep = 10 * time.Millisecond

// Reconciler restores cache consistency after the user-data stream reconnects.
type Reconciler interface {
	Reconcile(ctx context.Context) error
}

// OrderJournal records order updates.
type OrderJournal interface {
	Save(order domain.Order) error
}

// BalancePublisher is notified after the balance cache changes.
type BalancePublisher interface {
	Publish(change events.BalanceChange)
}

// Loop is the event dispatch loop. It is the only writer of the caches.
type Loop struct {
	transport  stream.Transport
	cache      *cache.Cache
	reconciler Reconciler
	journal    OrderJournal
	publisher  BalancePublisher
	idleSleep  time.Duration
	logger     *zap.Logger

	iterations atomic.Uint64
}

// Option configures the Loop.
type Option func(*Loop)

// WithIdleSleep sets the pause taken when neither a signal nor an event is available.
func WithIdleSleep(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.idleSleep = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithJournal records every order update taken from execution reports.
func WithJournal(j OrderJournal) Option {
	return func(l *Loop) {
		l.journal = j
	}
}

// WithBalancePublisher announces balance cache changes.
func WithBalancePublisher(p BalancePublisher) Option {
	return func(l *Loop) {
		l.publisher = p
	}
}

// New creates a dispatch loop.
func New(transport stream.Transport, c *cache.Cache, reconciler Reconciler, opts ...Option) *Loop {
	l := &Loop{
		transport:  transport,
		cache:      c,
		reconciler: reconciler,
		idleSleep:  defaultIdleSleep,
		logger:     zap.NewNop(),
	}

	for _, opt := range opts {
		opt(l)
	}

	l.logger = l.logger.With(zap.String("component", "dispatcher"))

	return l
}

// Iterations returns the number of loop iterations run so far.
func (l *Loop) Iterations() uint64 {
	return l.iterations.Load()
}

// Run attaches the balance lock to this goroutine and dispatches until ctx is done (nil is returned)
// or the transport stops (stream.ErrTransportStopping is returned).
func (l *Loop) Run(ctx context.Context) error {
	if err := l.cache.Balances().Attach(ctx); err != nil {
		return errors.Wrap(err, "attach balance lock")
	}

	l.logger.Info("dispatch loop started", zap.Duration("idle_sleep", l.idleSleep))

	timer := time.NewTimer(0)
	<-timer.C
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			l.logger.Info("dispatch loop stopped")
			return nil
		}
		if l.transport.IsStopping() {
			l.logger.Info("transport is stopping, dispatch loop exits")
			return stream.ErrTransportStopping
		}

		l.iterations.Add(1)

		signal, hasSignal := l.transport.PopSignal()
		event, hasEvent := l.transport.PopEvent()

		if hasSignal {
			if err := l.handleSignal(ctx, signal); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}

		if hasEvent {
			l.dispatch(ctx, event)
		}

		if !hasSignal && !hasEvent {
			timer.Reset(l.idleSleep)
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
		}
	}
}

func (l *Loop) handleSignal(ctx context.Context, signal stream.Signal) error {
	if signal.Kind != stream.Connect {
		l.logger.Debug("stream signal", zap.Stringer("kind", signal.Kind), zap.String("stream_id", signal.StreamID))
		return nil
	}

	info, ok := l.transport.StreamInfo(signal.StreamID)
	if !ok || !info.IsUserData() {
		return nil
	}

	l.logger.Debug("user data stream connected, reconciling", zap.String("stream_id", signal.StreamID))

	if err := l.reconciler.Reconcile(ctx); err != nil {
		return errors.Wrap(err, "reconcile after user data connect")
	}

	l.publish("invalidate", nil)

	return nil
}

// dispatch applies one event. A failing or panicking handler is logged and the event dropped.
func (l *Loop) dispatch(ctx context.Context, event stream.Event) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("event handler panicked",
				zap.String("event_type", event.EventType()),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()

	if err := l.handle(ctx, event); err != nil {
		l.logger.Error("handle event", zap.String("event_type", event.EventType()), zap.Error(err))
	}
}

func (l *Loop) handle(ctx context.Context, event stream.Event) error {
	switch e := event.(type) {
	case stream.ExecutionReport:
		l.logger.Debug("execution report",
			zap.Int64("order_id", e.OrderID),
			zap.String("symbol", e.Symbol),
			zap.String("status", e.Status),
		)
		order := e.Order()
		l.cache.UpsertOrder(order)
		if l.journal != nil {
			if err := l.journal.Save(order); err != nil {
				l.logger.Warn("journal order update", zap.Int64("order_id", order.ID), zap.Error(err))
			}
		}

	case stream.BalanceUpdate:
		l.logger.Debug("balance update", zap.String("asset", e.Asset), zap.Float64("delta", e.Delta))
		removed, err := l.cache.Balances().RemoveContext(ctx, e.Asset)
		if err != nil {
			return errors.Wrap(err, "remove balance")
		}
		if removed {
			l.publish(e.EventType(), []string{e.Asset})
		}

	case stream.AccountPosition:
		l.logger.Debug(e.Type, zap.Int("assets", len(e.Balances)))
		update := make(map[string]float64, len(e.Balances))
		assets := make([]string, 0, len(e.Balances))
		for _, b := range e.Balances {
			update[b.Asset] = b.Free
			assets = append(assets, b.Asset)
		}
		if err := l.cache.Balances().ApplySnapshotContext(ctx, update); err != nil {
			return errors.Wrap(err, "apply balance snapshot")
		}
		l.publish(e.Type, assets)

	case stream.MiniTickers:
		for _, t := range e {
			l.cache.SetTickerPrice(t.Symbol, t.ClosePrice)
		}

	case stream.BookTicker:
		l.cache.SetBookTicker(e.Symbol, e.BestBid, e.BestAsk)

	default:
		l.logger.Error("unknown event type", zap.String("event_type", event.EventType()), zap.Any("event", event))
	}

	return nil
}

func (l *Loop) publish(reason string, assets []string) {
	if l.publisher == nil {
		return
	}

	l.publisher.Publish(events.BalanceChange{
		Time:   time.Now(),
		Reason: reason,
		Assets: assets,
	})
}
