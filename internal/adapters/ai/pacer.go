package ai

import (
	"context"
	"sync"
	"time"
)

// DefaultPaceInterval is the minimum spacing between external AI calls.
const DefaultPaceInterval = 100 * time.Millisecond

// Pacer enforces a minimum interval between successive calls. It is safe for
// concurrent use; callers queue behind the shared last-call timestamp.
type Pacer struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time

	// Overridable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPacer creates a Pacer with the given minimum interval. Non-positive
// intervals fall back to DefaultPaceInterval.
func NewPacer(interval time.Duration) *Pacer {
	if interval <= 0 {
		interval = DefaultPaceInterval
	}
	return &Pacer{
		interval: interval,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Wait blocks until at least the configured interval has passed since the
// previous call, or until ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	now := p.now()
	earliest := p.last.Add(p.interval)
	delay := earliest.Sub(now)
	if delay < 0 {
		delay = 0
	}
	// Reserve the slot before sleeping so concurrent callers space out.
	if delay == 0 {
		p.last = now
	} else {
		p.last = earliest
	}
	p.mu.Unlock()

	if delay == 0 {
		return nil
	}
	return p.sleep(ctx, delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
