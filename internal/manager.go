package internal

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/martistream/internal/cache"
	"github.com/vadiminshakov/martistream/internal/domain"
	"github.com/vadiminshakov/martistream/internal/events"
	"github.com/vadiminshakov/martistream/internal/orderguard"
	"github.com/vadiminshakov/martistream/internal/services/dispatcher"
	"github.com/vadiminshakov/martistream/internal/services/reconciler"
	"github.com/vadiminshakov/martistream/internal/stream"
)

var (
	ErrAlreadyStarted = errors.New("stream manager already started")
	ErrNotStarted     = errors.New("stream manager not started")
)

// OrderJournal records every order update the manager observes.
type OrderJournal interface {
	Save(order domain.Order) error
}

// BalancePublisher is notified after the balance cache changes.
type BalancePublisher interface {
	Publish(change events.BalanceChange)
}

type managerOptions struct {
	logger                 *zap.Logger
	idleSleep              time.Duration
	reconcileRetryInterval time.Duration
	journal                OrderJournal
	publisher              BalancePublisher
}

// Option configures the Manager.
type Option func(*managerOptions)

// WithLogger sets the logger shared by the manager and its loops.
func WithLogger(l *zap.Logger) Option {
	return func(o *managerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithIdleSleep sets the dispatch loop pause used when the transport has nothing queued.
func WithIdleSleep(d time.Duration) Option {
	return func(o *managerOptions) {
		o.idleSleep = d
	}
}

// WithReconcileRetryInterval sets the pause between failed order fetches during reconciliation.
func WithReconcileRetryInterval(d time.Duration) Option {
	return func(o *managerOptions) {
		o.reconcileRetryInterval = d
	}
}

// WithJournal records order updates from the stream and from reconciliation.
func WithJournal(j OrderJournal) Option {
	return func(o *managerOptions) {
		o.journal = j
	}
}

// WithBalancePublisher announces balance cache changes.
func WithBalancePublisher(p BalancePublisher) Option {
	return func(o *managerOptions) {
		o.publisher = p
	}
}

// Manager is the process-wide stream manager. It owns the caches, the pending order registry
// and the dispatch loop that feeds the caches from the transport.
type Manager struct {
	cache     *cache.Cache
	registry  *orderguard.Registry
	transport stream.Transport
	loop      *dispatcher.Loop
	logger    *zap.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewManager wires the caches, the registry, the reconciler and the dispatch loop around transport.
// fetcher is used to re-read pending orders after the user-data stream reconnects.
func NewManager(transport stream.Transport, fetcher reconciler.OrderFetcher, opts ...Option) *Manager {
	o := managerOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	c := cache.New()
	registry := orderguard.NewRegistry()

	recOpts := []reconciler.Option{
		reconciler.WithLogger(o.logger),
		reconciler.WithRetryInterval(o.reconcileRetryInterval),
	}
	loopOpts := []dispatcher.Option{
		dispatcher.WithLogger(o.logger),
		dispatcher.WithIdleSleep(o.idleSleep),
	}
	if o.journal != nil {
		recOpts = append(recOpts, reconciler.WithJournal(o.journal))
		loopOpts = append(loopOpts, dispatcher.WithJournal(o.journal))
	}
	if o.publisher != nil {
		loopOpts = append(loopOpts, dispatcher.WithBalancePublisher(o.publisher))
	}

	rec := reconciler.New(registry, fetcher, c, recOpts...)

	return &Manager{
		cache:     c,
		registry:  registry,
		transport: transport,
		loop:      dispatcher.New(transport, c, rec, loopOpts...),
		logger:    o.logger.With(zap.String("component", "manager")),
		done:      make(chan struct{}),
	}
}

// Cache returns the shared caches.
func (m *Manager) Cache() *cache.Cache {
	return m.cache
}

// AcquireOrderGuard takes the submission lock. The caller places the order, calls SetOrder and Enter,
// and closes the returned scope once the order is no longer pending.
func (m *Manager) AcquireOrderGuard() *orderguard.Guard {
	return m.registry.Acquire()
}

// RegisterOrder places an order with place while holding the submission lock and returns the scope
// that keeps it pending. The lock is always released, whatever place returns.
func (m *Manager) RegisterOrder(ctx context.Context, originSymbol, targetSymbol string,
	place func(ctx context.Context) (int64, error)) (*orderguard.Scope, error) {
	return m.registry.Register(ctx, originSymbol, targetSymbol, place)
}

// Pending returns the currently pending order tags.
func (m *Manager) Pending() []domain.PendingTag {
	return m.registry.Pending()
}

// Start runs the dispatch loop in its own goroutine until ctx is done or Close is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	go func() {
		defer close(m.done)
		err := m.loop.Run(runCtx)
		if err != nil && !errors.Is(err, stream.ErrTransportStopping) {
			m.logger.Error("dispatch loop failed", zap.Error(err))
		}
		m.runErr = err
	}()

	m.logger.Info("stream manager started")
	return nil
}

// Wait blocks until the dispatch loop exits and returns its error.
// stream.ErrTransportStopping means the transport was stopped underneath the loop.
func (m *Manager) Wait() error {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	<-m.done
	return m.runErr
}

// Close stops every stream and waits for the dispatch loop. A loop that exits because of this stop is
// a clean shutdown and yields nil. Calling Close more than once returns the first result.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.transport.Stop()

		m.mu.Lock()
		started, cancel := m.started, m.cancel
		m.mu.Unlock()

		if !started {
			m.logger.Info("stream manager closed before start")
			return
		}
		// wakes a reconciliation stuck in its retry wait
		cancel()

		<-m.done
		if err := m.runErr; err != nil && !errors.Is(err, stream.ErrTransportStopping) && !errors.Is(err, context.Canceled) {
			m.closeErr = errors.Wrap(err, "dispatch loop")
		}
		m.logger.Info("stream manager closed", zap.Error(m.closeErr))
	})

	return m.closeErr
}
