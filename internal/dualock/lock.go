// Package dualock provides a mutual-exclusion lock shared by ordinary goroutines that block
// and a single cooperative goroutine that suspends on channels while it waits.
//
// The lock is made of two facets. The blocking facet is a plain mutex. The cooperative facet is owned
// by a runner goroutine started by Attach and is acquired by sending it a request and waiting for the
// grant. After Attach every blocking acquisition takes the mutex and then the cooperative facet, so both
// facets are held as one unit and a blocking holder excludes the cooperative side and vice versa.
//
// The lock is not reentrant. Acquiring it again while holding it deadlocks.
package dualock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

var (
	// ErrNotAttached is returned by cooperative acquisitions made before Attach.
	ErrNotAttached = errors.New("lock is not attached to a cooperative runner")
	// ErrAlreadyAttached is returned by a second Attach.
	ErrAlreadyAttached = errors.New("lock is already attached to a cooperative runner")
	// ErrRunnerStopped is returned by cooperative acquisitions after the runner exited.
	ErrRunnerStopped = errors.New("cooperative runner stopped")
)

// Lock is a dual-mode mutual-exclusion lock. The zero value is an unattached, unlocked lock.
type Lock struct {
	mu     sync.Mutex
	runner atomic.Pointer[runner]
	// coopHeld is guarded by mu and tells Unlock whether Lock took the cooperative facet too.
	coopHeld bool
}

// Attach binds the lock to a cooperative runner living until ctx is done.
// It must be called exactly once, before any cooperative acquisition.
func (l *Lock) Attach(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.runner.Load() != nil {
		return ErrAlreadyAttached
	}

	r := newRunner()
	go r.run(ctx)
	l.runner.Store(r)

	return nil
}

// Attached reports whether Attach has been called.
func (l *Lock) Attached() bool {
	return l.runner.Load() != nil
}

// Lock acquires the lock from a blocking caller.
func (l *Lock) Lock() {
	l.mu.Lock()

	r := l.runner.Load()
	if r == nil {
		return
	}

	// once the runner has drained and exited nobody can hold the cooperative facet,
	// so the mutex alone keeps the exclusion.
	l.coopHeld = r.acquire(context.Background()) == nil
}

// Unlock releases a lock taken with Lock.
func (l *Lock) Unlock() {
	if l.coopHeld {
		l.coopHeld = false
		l.runner.Load().release()
	}

	l.mu.Unlock()
}

// LockContext acquires the lock from the cooperative side, suspending until it is granted or ctx is done.
func (l *Lock) LockContext(ctx context.Context) error {
	r := l.runner.Load()
	if r == nil {
		return ErrNotAttached
	}

	return r.acquire(ctx)
}

// UnlockContext releases a lock taken with LockContext.
func (l *Lock) UnlockContext() {
	if r := l.runner.Load(); r != nil {
		r.release()
	}
}

// Do runs fn while holding the lock from a blocking caller. The lock is released on every exit path.
func (l *Lock) Do(fn func()) {
	l.Lock()
	defer l.Unlock()

	fn()
}

// DoContext runs fn while holding the lock from the cooperative side. The lock is released on every exit path.
func (l *Lock) DoContext(ctx context.Context, fn func() error) error {
	if err := l.LockContext(ctx); err != nil {
		return err
	}
	defer l.UnlockContext()

	return fn()
}
