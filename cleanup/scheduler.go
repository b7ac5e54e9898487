// Package cleanup runs the periodic TTL sweep over the page store and the
// batch job table. Sweeps can also be triggered on demand; concurrent
// triggers join the in-flight sweep instead of starting another.
package cleanup

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Target is anything that can expire entries older than a TTL.
// *store.Store and *batch.Manager implement it.
type Target interface {
	CleanupOlderThan(ttl time.Duration) int
}

// run is one sweep in progress. done is closed once removed is final.
type run struct {
	done    chan struct{}
	removed int
}

// Scheduler sweeps its targets every interval, removing entries older than
// ttl. Safe for concurrent use.
type Scheduler struct {
	ttl      time.Duration
	interval time.Duration

	// minInterval throttles on-demand triggers: a trigger landing within
	// minInterval of the previous sweep is a no-op.
	minInterval time.Duration

	targets []Target

	mu      sync.Mutex
	lastRun time.Time
	current *run

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewScheduler creates a Scheduler sweeping targets every interval.
func NewScheduler(ttl, interval time.Duration, targets ...Target) *Scheduler {
	return &Scheduler{
		ttl:         ttl,
		interval:    interval,
		minInterval: interval / 4,
		targets:     targets,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start launches the periodic sweep loop.
func (s *Scheduler) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		slog.Info("cleanup scheduler started", "ttl", s.ttl, "interval", s.interval)
		for {
			select {
			case <-ticker.C:
				s.Trigger()
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop halts the loop and waits for any in-flight sweep, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	r := s.current
	s.mu.Unlock()
	if r != nil {
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Trigger runs a sweep now and returns the number of entries removed.
// If a sweep is already running, the caller waits for it and gets its count.
// A trigger landing within minInterval of the last sweep is a no-op.
func (s *Scheduler) Trigger() int {
	s.mu.Lock()
	if r := s.current; r != nil {
		s.mu.Unlock()
		<-r.done
		return r.removed
	}
	if time.Since(s.lastRun) < s.minInterval {
		s.mu.Unlock()
		return 0
	}
	r := &run{done: make(chan struct{})}
	s.current = r
	// The throttle window counts from when a sweep starts, not when it ends.
	s.lastRun = time.Now()
	s.mu.Unlock()

	r.removed = s.sweep()

	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
	close(r.done)

	return r.removed
}

// sweep expires all targets in parallel and sums the removal counts.
func (s *Scheduler) sweep() int {
	start := time.Now()

	var total atomic.Int64
	var wg sync.WaitGroup
	for _, target := range s.targets {
		wg.Add(1)
		go func(t Target) {
			defer wg.Done()
			total.Add(int64(t.CleanupOlderThan(s.ttl)))
		}(target)
	}
	wg.Wait()

	removed := int(total.Load())
	if removed > 0 {
		slog.Info("cleanup sweep finished",
			"removed", removed, "duration", time.Since(start))
	}
	return removed
}
