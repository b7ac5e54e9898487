// Package admission provides bounded concurrency pools. Each pool caps both
// in-flight work and the number of queued waiters; when both caps are hit,
// admission is refused immediately rather than blocking the caller.
package admission

import (
	"context"
	"fmt"
	"sync"

	"github.com/use-agent/harvest/apperr"
)

// waiter represents one queued admission request. ready is closed when a
// slot has been transferred to the waiter; granted disambiguates the race
// between slot transfer and context cancellation.
type waiter struct {
	ready   chan struct{}
	granted bool
}

// Pool is a bounded admission pool. Waiters are admitted in FIFO order.
// The zero value is not usable; construct with NewPool.
type Pool struct {
	name           string
	maxConcurrency int
	maxQueue       int

	mu       sync.Mutex
	inFlight int
	queue    []*waiter
}

// NewPool creates a pool with the given in-flight and queue caps.
// maxConcurrency is clamped to at least 1; maxQueue to at least 0.
func NewPool(name string, maxConcurrency, maxQueue int) *Pool {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	if maxQueue < 0 {
		maxQueue = 0
	}
	return &Pool{
		name:           name,
		maxConcurrency: maxConcurrency,
		maxQueue:       maxQueue,
	}
}

// Do admits the caller and runs fn under a slot. Admission fails immediately
// with KindOverloaded when both the in-flight and queue caps are saturated,
// and with KindCancelled when ctx is done before a slot frees. The slot is
// released when fn returns, whatever fn's outcome.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	defer p.release()
	return fn(ctx)
}

// acquire blocks until a slot is available, the queue refuses, or ctx is done.
func (p *Pool) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return apperr.New(apperr.KindCancelled, "request cancelled before admission", err)
	}

	p.mu.Lock()
	if p.inFlight < p.maxConcurrency {
		p.inFlight++
		p.mu.Unlock()
		return nil
	}
	if len(p.queue) >= p.maxQueue {
		p.mu.Unlock()
		return apperr.New(apperr.KindOverloaded, "admission pool saturated", nil).
			WithDetails(fmt.Sprintf("pool %q: %d in flight, %d queued", p.name, p.maxConcurrency, p.maxQueue))
	}
	w := &waiter{ready: make(chan struct{})}
	p.queue = append(p.queue, w)
	p.mu.Unlock()

	select {
	case <-w.ready:
		// Slot was transferred by release(); inFlight already accounts for us.
		return nil
	case <-ctx.Done():
		p.mu.Lock()
		if w.granted {
			// release() handed us a slot concurrently with cancellation.
			// Give it back so the next waiter is not starved.
			p.mu.Unlock()
			p.release()
		} else {
			p.removeLocked(w)
			p.mu.Unlock()
		}
		return apperr.New(apperr.KindCancelled, "request cancelled while queued", ctx.Err())
	}
}

// release frees the caller's slot, handing it to the oldest waiter if any.
func (p *Pool) release() {
	p.mu.Lock()
	if len(p.queue) > 0 {
		w := p.queue[0]
		p.queue = p.queue[1:]
		w.granted = true
		close(w.ready)
		// inFlight is unchanged: the slot moves to the waiter.
		p.mu.Unlock()
		return
	}
	p.inFlight--
	p.mu.Unlock()
}

// removeLocked drops a cancelled waiter from the queue. Caller holds p.mu.
func (p *Pool) removeLocked(w *waiter) {
	for i, q := range p.queue {
		if q == w {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			return
		}
	}
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() (inFlight, queued int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight, len(p.queue)
}
