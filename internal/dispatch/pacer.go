package dispatch

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts wall-clock time so pacing is testable with virtual time.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock is the production clock
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Pacer spaces operations to a target rate. Wait blocks until the next
// operation is permitted; the delay is measured per call, so a slow send
// absorbs its own latency instead of stacking fixed sleeps on top of it.
type Pacer struct {
	clock    Clock
	interval time.Duration

	mu   sync.Mutex
	next time.Time
}

// NewPacer creates a pacer for the given rate in operations per second.
// A non-positive rate disables pacing.
func NewPacer(perSecond float64, clock Clock) *Pacer {
	var interval time.Duration
	if perSecond > 0 {
		interval = time.Duration(float64(time.Second) / perSecond)
	}
	return &Pacer{clock: clock, interval: interval}
}

// Wait blocks until the pacer permits the next operation.
func (p *Pacer) Wait(ctx context.Context) error {
	if p.interval <= 0 {
		return ctx.Err()
	}

	p.mu.Lock()
	now := p.clock.Now()
	wait := p.next.Sub(now)
	if wait < 0 {
		wait = 0
	}
	base := now.Add(wait)
	p.next = base.Add(p.interval)
	p.mu.Unlock()

	if wait > 0 {
		return p.clock.Sleep(ctx, wait)
	}
	return ctx.Err()
}
