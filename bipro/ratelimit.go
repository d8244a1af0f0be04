package bipro

import (
	"context"
	"sync"
	"time"
)

// AdaptiveRateLimiter converts carrier throttle responses (HTTP 429/503)
// into local backpressure. It maintains a concurrency window in
// [floor, ceiling]: every throttle signal halves the window, and after a
// clean cooldown period the window grows back one step at a time.
//
// All state is mutated through the limiter's own methods; callers only ever
// Acquire, Release and Throttle.
type AdaptiveRateLimiter struct {
	mu   sync.Mutex
	cond *sync.Cond

	floor    int
	ceiling  int
	current  int
	inFlight int

	cooldown   time.Duration
	lastChange time.Time
	throttles  int // total throttle signals observed

	now func() time.Time
}

// NewAdaptiveRateLimiter creates a limiter starting at the full ceiling.
func NewAdaptiveRateLimiter(floor, ceiling int, cooldown time.Duration) *AdaptiveRateLimiter {
	if floor < 1 {
		floor = 1
	}
	if ceiling < floor {
		ceiling = floor
	}
	l := &AdaptiveRateLimiter{
		floor:    floor,
		ceiling:  ceiling,
		current:  ceiling,
		cooldown: cooldown,
		now:      time.Now,
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Acquire blocks until a concurrency slot is free or ctx is done. The window
// is re-evaluated on every wakeup, so a mid-run throttle event shrinks
// in-flight work promptly.
func (l *AdaptiveRateLimiter) Acquire(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		l.mu.Lock()
		l.cond.Broadcast()
		l.mu.Unlock()
	})
	defer stop()

	l.mu.Lock()
	defer l.mu.Unlock()
	for l.inFlight >= l.current {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l.inFlight++
	return nil
}

// Release returns a slot. A successful operation during a clean cooldown
// window grows the concurrency window by one step, up to the ceiling.
func (l *AdaptiveRateLimiter) Release(success bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inFlight > 0 {
		l.inFlight--
	}
	if success && l.current < l.ceiling && l.now().Sub(l.lastChange) >= l.cooldown {
		l.current++
		l.lastChange = l.now()
	}
	l.cond.Broadcast()
}

// Throttle records a carrier rate-limit signal: the window is halved,
// bounded below by the floor, and the cooldown timer restarts.
func (l *AdaptiveRateLimiter) Throttle() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.throttles++
	l.current /= 2
	if l.current < l.floor {
		l.current = l.floor
	}
	l.lastChange = l.now()
}

// Current returns the concurrency window currently permitted.
func (l *AdaptiveRateLimiter) Current() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// InFlight returns the number of held slots.
func (l *AdaptiveRateLimiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight
}

// Throttles returns the total number of throttle signals observed.
func (l *AdaptiveRateLimiter) Throttles() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.throttles
}
