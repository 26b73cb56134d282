// Package orderguard tracks order submissions that must be re-verified after the user-data stream reconnects.
//
// A Guard holds the submission lock from the moment it is acquired until its order id is known and the
// pending tag is registered. This closes the window where a reconnect could reconcile the pending set before
// a just-placed order is part of it.
package orderguard

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/martistream/internal/domain"
)

var (
	// ErrOrderNotSet is the panic value of Enter on a guard without SetOrder.
	ErrOrderNotSet = errors.New("order guard entered before SetOrder")
	// ErrGuardReleased is the panic value of Enter on a guard that was already entered or aborted.
	ErrGuardReleased = errors.New("order guard already released")
)

// Registry owns the submission lock and the set of pending tags.
type Registry struct {
	submit sync.Mutex

	mu   sync.Mutex
	tags map[domain.PendingTag]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tags: make(map[domain.PendingTag]struct{})}
}

// Acquire takes the submission lock and returns a guard owning it.
// The guard must be either entered or aborted.
func (r *Registry) Acquire() *Guard {
	r.submit.Lock()
	return &Guard{registry: r}
}

// Register places an order while holding the submission lock and registers its tag.
// On placement error the lock is released and nothing is registered.
func (r *Registry) Register(ctx context.Context, originSymbol, targetSymbol string,
	place func(ctx context.Context) (int64, error)) (*Scope, error) {
	g := r.Acquire()
	defer g.Abort()

	orderID, err := place(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "place order %s%s", originSymbol, targetSymbol)
	}

	g.SetOrder(originSymbol, targetSymbol, orderID)

	return g.Enter(), nil
}

// Pending returns a copy of the pending tags ordered by symbol and order id.
// It waits for in-flight submissions to register first.
func (r *Registry) Pending() []domain.PendingTag {
	r.submit.Lock()
	defer r.submit.Unlock()

	r.mu.Lock()
	out := make([]domain.PendingTag, 0, len(r.tags))
	for tag := range r.tags {
		out = append(out, tag)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].OrderID < out[j].OrderID
	})

	return out
}

func (r *Registry) add(tag domain.PendingTag) {
	r.mu.Lock()
	r.tags[tag] = struct{}{}
	r.mu.Unlock()
}

func (r *Registry) remove(tag domain.PendingTag) {
	r.mu.Lock()
	delete(r.tags, tag)
	r.mu.Unlock()
}

// Guard is a single order submission holding the submission lock.
// It is used by one goroutine.
type Guard struct {
	registry *Registry
	tag      domain.PendingTag
	set      bool
	released bool
}

// SetOrder records the order the guard protects. It must be called before Enter.
func (g *Guard) SetOrder(originSymbol, targetSymbol string, orderID int64) {
	g.tag = domain.NewPendingTag(originSymbol, targetSymbol, orderID)
	g.set = true
}

// Enter registers the pending tag and releases the submission lock.
// It panics with ErrOrderNotSet when SetOrder was not called; the lock is released first.
func (g *Guard) Enter() *Scope {
	if g.released {
		panic(ErrGuardReleased)
	}
	g.released = true
	defer g.registry.submit.Unlock()

	if !g.set {
		panic(ErrOrderNotSet)
	}

	g.registry.add(g.tag)

	return &Scope{registry: g.registry, tag: g.tag}
}

// Abort releases the submission lock of a guard that will not be entered.
// It does nothing after Enter or a previous Abort.
func (g *Guard) Abort() {
	if g.released {
		return
	}
	g.released = true
	g.registry.submit.Unlock()
}

// Scope is a registered pending order. Close it once the order outcome no longer needs reconciliation.
type Scope struct {
	registry *Registry
	tag      domain.PendingTag
	once     sync.Once
}

// Tag returns the registered tag.
func (s *Scope) Tag() domain.PendingTag {
	return s.tag
}

// Close removes the tag. Calling it more than once is safe.
func (s *Scope) Close() {
	s.once.Do(func() {
		s.registry.remove(s.tag)
	})
}
