package cfscraper

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const slotPollInterval = 100 * time.Millisecond

// throttle spaces dispatches and caps how many logical requests are in
// flight at once.
type throttle struct {
	limiter *rate.Limiter

	mu       sync.Mutex
	inFlight int
	max      int
}

func newThrottle(minInterval time.Duration, maxConcurrent int) *throttle {
	t := &throttle{max: max(maxConcurrent, 1)}
	if minInterval > 0 {
		t.limiter = rate.NewLimiter(rate.Every(minInterval), 1)
	}
	return t
}

// acquire blocks until an in-flight slot is free.
func (t *throttle) acquire(ctx context.Context) error {
	ticker := time.NewTicker(slotPollInterval)
	defer ticker.Stop()

	for {
		t.mu.Lock()
		if t.inFlight < t.max {
			t.inFlight++
			t.mu.Unlock()
			return nil
		}
		t.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (t *throttle) release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inFlight > 0 {
		t.inFlight--
	}
}

// wait blocks until the minimum interval since the previous dispatch has passed.
func (t *throttle) wait(ctx context.Context) error {
	if t.limiter == nil {
		return nil
	}
	return t.limiter.Wait(ctx)
}

func (t *throttle) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inFlight
}
