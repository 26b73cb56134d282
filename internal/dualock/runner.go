package dualock

import "context"

type messageKind int

const (
	msgAcquire messageKind = iota
	msgRelease
	msgAbandon
)

type request struct {
	// grant is buffered so the runner never blocks on a waiter that gave up.
	grant chan struct{}
}

type message struct {
	kind messageKind
	req  *request
}

// runner owns the cooperative facet. All requests travel over one channel so that an acquire
// and the abandon following it are always seen in order.
type runner struct {
	msgs chan message
	done chan struct{}
}

func newRunner() *runner {
	return &runner{
		msgs: make(chan message),
		done: make(chan struct{}),
	}
}

// run serves requests until ctx is done and the facet is free with nobody waiting.
func (r *runner) run(ctx context.Context) {
	defer close(r.done)

	var (
		held     *request
		queue    []*request
		stopping bool
	)

	grantNext := func() {
		held = nil
		if len(queue) > 0 {
			held = queue[0]
			queue = queue[1:]
			held.grant <- struct{}{}
		}
	}

	for {
		if stopping && held == nil && len(queue) == 0 {
			return
		}

		var ctxDone <-chan struct{}
		if !stopping {
			ctxDone = ctx.Done()
		}

		select {
		case <-ctxDone:
			stopping = true
		case m := <-r.msgs:
			switch m.kind {
			case msgAcquire:
				if held == nil {
					held = m.req
					held.grant <- struct{}{}
				} else {
					queue = append(queue, m.req)
				}
			case msgRelease:
				grantNext()
			case msgAbandon:
				if held == m.req {
					grantNext()
					continue
				}
				for i, q := range queue {
					if q == m.req {
						queue = append(queue[:i], queue[i+1:]...)
						break
					}
				}
			}
		}
	}
}

func (r *runner) acquire(ctx context.Context) error {
	req := &request{grant: make(chan struct{}, 1)}

	select {
	case r.msgs <- message{kind: msgAcquire, req: req}:
	case <-r.done:
		return ErrRunnerStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.grant:
		return nil
	case <-ctx.Done():
		// the grant may already sit in the buffer; the runner hands it on in that case.
		r.send(message{kind: msgAbandon, req: req})
		return ctx.Err()
	case <-r.done:
		return ErrRunnerStopped
	}
}

func (r *runner) release() {
	r.send(message{kind: msgRelease})
}

func (r *runner) send(m message) {
	select {
	case r.msgs <- m:
	case <-r.done:
	}
}
