package batch

import (
	"context"
	"math/rand"
	"time"
)

// delay computes the pacing pause between batch items: uniform in
// [minMs, maxMs], then ±20% multiplicative jitter when enabled.
func delay(minMs, maxMs int, jitter bool) time.Duration {
	if minMs < 0 {
		minMs = 0
	}
	if maxMs < minMs {
		maxMs = minMs
	}

	ms := float64(minMs)
	if span := maxMs - minMs; span > 0 {
		ms += float64(rand.Intn(span + 1))
	}
	if jitter {
		ms *= 0.8 + 0.4*rand.Float64()
	}
	return time.Duration(ms) * time.Millisecond
}

// sleepCtx sleeps for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
