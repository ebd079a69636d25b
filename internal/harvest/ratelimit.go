package harvest

import (
	"context"
	"math/rand"
	"time"
)

// DelayPolicy throttles consecutive fetches. Pause sleeps a duration drawn
// uniformly from [Min, Max]. This is a courtesy throttle only; the zero
// value disables it entirely.
type DelayPolicy struct {
	Min time.Duration
	Max time.Duration
}

// Pause blocks for a randomized delay or until the context is done,
// whichever comes first.
func (p DelayPolicy) Pause(ctx context.Context) {
	pause(ctx, p.delay())
}

func (p DelayPolicy) delay() time.Duration {
	if p.Max <= p.Min {
		return p.Min
	}
	return p.Min + time.Duration(rand.Int63n(int64(p.Max-p.Min)+1))
}

func pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
