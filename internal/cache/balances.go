package cache

import (
	"context"

	"github.com/vadiminshakov/martistream/internal/dualock"
)

// Balances holds free balances per asset. Every access goes through one dual-mode lock so caller
// goroutines and the dispatch goroutine never observe each other's partial updates.
//
// A missing asset means the balance is unknown, never zero.
type Balances struct {
	lock dualock.Lock
	data map[string]float64
}

func newBalances() *Balances {
	return &Balances{data: make(map[string]float64)}
}

// Attach binds the balance lock to the cooperative runner of the dispatch goroutine.
func (b *Balances) Attach(ctx context.Context) error {
	return b.lock.Attach(ctx)
}

// Attached reports whether the balance lock is bound to a cooperative runner.
func (b *Balances) Attached() bool {
	return b.lock.Attached()
}

// Open gives fn exclusive mutable access to the balance map from a blocking caller.
// fn must not retain the map.
func (b *Balances) Open(fn func(balances map[string]float64)) {
	b.lock.Do(func() {
		fn(b.data)
	})
}

// OpenContext is the cooperative form of Open.
func (b *Balances) OpenContext(ctx context.Context, fn func(balances map[string]float64) error) error {
	return b.lock.DoContext(ctx, func() error {
		return fn(b.data)
	})
}

// Get returns the free balance of asset and whether it is known.
func (b *Balances) Get(asset string) (float64, bool) {
	var (
		v  float64
		ok bool
	)
	b.Open(func(balances map[string]float64) {
		v, ok = balances[asset]
	})
	return v, ok
}

// Snapshot returns a copy of every known balance.
func (b *Balances) Snapshot() map[string]float64 {
	var out map[string]float64
	b.Open(func(balances map[string]float64) {
		out = copyBalances(balances)
	})
	return out
}

// Invalidate forgets every balance.
func (b *Balances) Invalidate() {
	b.Open(func(balances map[string]float64) {
		clear(balances)
	})
}

// InvalidateContext is the cooperative form of Invalidate.
func (b *Balances) InvalidateContext(ctx context.Context) error {
	return b.OpenContext(ctx, func(balances map[string]float64) error {
		clear(balances)
		return nil
	})
}

// ApplySnapshot overwrites every asset listed in update. Assets not listed keep their value.
func (b *Balances) ApplySnapshot(update map[string]float64) {
	b.Open(func(balances map[string]float64) {
		applySnapshot(balances, update)
	})
}

// ApplySnapshotContext is the cooperative form of ApplySnapshot.
func (b *Balances) ApplySnapshotContext(ctx context.Context, update map[string]float64) error {
	return b.OpenContext(ctx, func(balances map[string]float64) error {
		applySnapshot(balances, update)
		return nil
	})
}

// Remove forgets the balance of asset and reports whether it was known.
func (b *Balances) Remove(asset string) bool {
	var removed bool
	b.Open(func(balances map[string]float64) {
		removed = remove(balances, asset)
	})
	return removed
}

// RemoveContext is the cooperative form of Remove.
func (b *Balances) RemoveContext(ctx context.Context, asset string) (bool, error) {
	var removed bool
	err := b.OpenContext(ctx, func(balances map[string]float64) error {
		removed = remove(balances, asset)
		return nil
	})
	return removed, err
}

func applySnapshot(balances, update map[string]float64) {
	for asset, free := range update {
		balances[asset] = free
	}
}

func remove(balances map[string]float64, asset string) bool {
	if _, ok := balances[asset]; !ok {
		return false
	}
	delete(balances, asset)
	return true
}

func copyBalances(balances map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(balances))
	for k, v := range balances {
		out[k] = v
	}
	return out
}
