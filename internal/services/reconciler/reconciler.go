package reconciler

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/martistream/internal/cache"
	"github.com/vadiminshakov/martistream/internal/domain"
	"github.com/vadiminshakov/martistream/pkg/retrier"
)

const defaultRetryInterval = time.Second

// OrderFetcher queries the current state of an order over REST.
type OrderFetcher interface {
	GetOrder(ctx context.Context, symbol string, orderID int64) (domain.Order, error)
}

// PendingSource lists orders whose outcome may have been missed while the stream was down.
type PendingSource interface {
	Pending() []domain.PendingTag
}

// OrderJournal records order updates.
type OrderJournal interface {
	Save(order domain.Order) error
}

// Reconciler brings the order and balance caches back in line after the user-data stream reconnects.
// It runs on the dispatch goroutine.
type Reconciler struct {
	pending       PendingSource
	fetcher       OrderFetcher
	cache         *cache.Cache
	retryInterval time.Duration
	journal       OrderJournal
	logger        *zap.Logger
}

// Option configures the Reconciler.
type Option func(*Reconciler)

// WithRetryInterval sets the fixed wait between failed order fetches.
func WithRetryInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.retryInterval = d
		}
	}
}

// WithJournal records every reconciled order.
func WithJournal(j OrderJournal) Option {
	return func(r *Reconciler) {
		r.journal = j
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a reconciler writing into c.
func New(pending PendingSource, fetcher OrderFetcher, c *cache.Cache, opts ...Option) *Reconciler {
	r := &Reconciler{
		pending:       pending,
		fetcher:       fetcher,
		cache:         c,
		retryInterval: defaultRetryInterval,
		logger:        zap.NewNop(),
	}

	for _, opt := range opts {
		opt(r)
	}

	r.logger = r.logger.With(zap.String("component", "reconciler"))

	return r
}

// Reconcile refreshes pending orders and then invalidates balances.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	if err := r.FetchPending(ctx); err != nil {
		return err
	}

	return r.InvalidateBalances(ctx)
}

// FetchPending fetches every pending order and upserts it into the order cache.
// A failing fetch is retried at a fixed interval until it succeeds or ctx is done.
func (r *Reconciler) FetchPending(ctx context.Context) error {
	tags := r.pending.Pending()

	for _, tag := range tags {
		order, err := r.fetch(ctx, tag)
		if err != nil {
			return err
		}

		r.cache.UpsertOrder(order)
		if r.journal != nil {
			if err := r.journal.Save(order); err != nil {
				r.logger.Warn("journal reconciled order", zap.Int64("order_id", order.ID), zap.Error(err))
			}
		}

		r.logger.Info("pending order fetched",
			zap.String("symbol", tag.Symbol),
			zap.Int64("order_id", order.ID),
			zap.String("status", order.Status),
			zap.Float64("filled", order.CumulativeFilledQuantity),
		)
	}

	return nil
}

func (r *Reconciler) fetch(ctx context.Context, tag domain.PendingTag) (domain.Order, error) {
	rt := retrier.New(
		retrier.WithFixedInterval(r.retryInterval),
		retrier.WithMaxRetries(retrier.Unlimited),
		retrier.WithOnRetry(func(attempt int, err error) {
			r.logger.Warn("fetch pending order failed, retrying",
				zap.String("tag", tag.String()),
				zap.Int("attempt", attempt),
				zap.Duration("retry_in", r.retryInterval),
				zap.Error(err),
			)
		}),
	)

	order, err := retrier.DoWithData(rt, ctx, func(ctx context.Context) (domain.Order, error) {
		return r.fetcher.GetOrder(ctx, tag.Symbol, tag.OrderID)
	})
	if err != nil {
		return domain.Order{}, errors.Wrapf(err, "fetch pending order %s", tag)
	}

	return order, nil
}

// InvalidateBalances clears the balance cache from the cooperative side of its lock.
func (r *Reconciler) InvalidateBalances(ctx context.Context) error {
	if err := r.cache.Balances().InvalidateContext(ctx); err != nil {
		return errors.Wrap(err, "invalidate balances")
	}

	r.logger.Info("balances invalidated")

	return nil
}
