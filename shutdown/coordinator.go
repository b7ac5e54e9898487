// Package shutdown tracks the service's draining state and the number of
// in-flight HTTP requests. Once draining, new work is refused with 503 while
// in-flight requests run to completion.
package shutdown

import "sync/atomic"

// Coordinator is the process-wide drain gate. The zero value is ready to use.
type Coordinator struct {
	draining atomic.Bool
	active   atomic.Int64
}

// MarkDraining flips the service into draining mode. Idempotent; reports
// whether this call performed the transition.
func (c *Coordinator) MarkDraining() bool {
	return c.draining.CompareAndSwap(false, true)
}

// IsDraining reports whether the service is shutting down.
func (c *Coordinator) IsDraining() bool {
	return c.draining.Load()
}

// Inc registers an in-flight request.
func (c *Coordinator) Inc() {
	c.active.Add(1)
}

// Dec unregisters an in-flight request.
func (c *Coordinator) Dec() {
	c.active.Add(-1)
}

// Active returns the number of in-flight requests.
func (c *Coordinator) Active() int64 {
	return c.active.Load()
}
