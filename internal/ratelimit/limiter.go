// Package ratelimit provides a strict rate limiter for consistent
// transaction submission at a target throughput.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrInvalidRate is returned when a limiter is requested with a zero rate.
var ErrInvalidRate = errors.New("target rate must be at least 1 per second")

// catchUpWindow bounds how far behind schedule a caller may fall before the
// deadline is reset. Lateness inside the window (timer jitter) is absorbed by
// issuing the following permits immediately.
const catchUpWindow = 10 * time.Millisecond

// Throttler gates actions to a target rate.
type Throttler interface {
	// Throttle blocks until the caller may proceed or ctx is done.
	Throttle(ctx context.Context) error
	// Interval is the minimum spacing between permits.
	Interval() time.Duration
}

// Limiter issues permits on a rolling deadline: each permit is scheduled at
// the previous deadline plus one interval. If the caller has fallen more than
// the catch-up window behind, the schedule restarts from now, so a slow caller
// is neither left permanently behind nor allowed to burst to catch up.
type Limiter struct {
	mu             sync.Mutex
	nextPermitTime time.Time
	interval       time.Duration
	rate           uint32

	now func() time.Time
}

// New creates a Limiter for targetTps permits per second.
func New(targetTps uint32) (*Limiter, error) {
	if targetTps == 0 {
		return nil, ErrInvalidRate
	}

	return &Limiter{
		nextPermitTime: time.Now(),
		interval:       intervalFor(targetTps),
		rate:           targetTps,
		now:            time.Now,
	}, nil
}

// intervalFor rounds up so the long-run rate never exceeds targetTps.
func intervalFor(targetTps uint32) time.Duration {
	d := time.Duration(targetTps)
	return (time.Second + d - 1) / d
}

// reserve claims the next permit time and advances the deadline.
func (l *Limiter) reserve() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	permitTime := l.nextPermitTime
	if now := l.now(); now.Sub(permitTime) > max(l.interval, catchUpWindow) {
		// Idle past the deadline; restart the schedule instead of bursting.
		permitTime = now
	}
	l.nextPermitTime = permitTime.Add(l.interval)
	return permitTime
}

// release returns a permit that was never used, if no later permit was issued.
func (l *Limiter) release(permitTime time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.nextPermitTime.Equal(permitTime.Add(l.interval)) {
		l.nextPermitTime = permitTime
	}
}

// Throttle blocks until a permit is available or the context is cancelled.
// A cancelled wait hands its slot back so later callers are not starved.
func (l *Limiter) Throttle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	permitTime := l.reserve()

	waitDuration := permitTime.Sub(l.now())
	if waitDuration <= 0 {
		return nil
	}

	timer := time.NewTimer(waitDuration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		l.release(permitTime)
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Interval returns the spacing between permits.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// Rate returns the configured permits per second.
func (l *Limiter) Rate() uint32 {
	return l.rate
}

// noop never blocks.
type noop struct {
	interval time.Duration
}

func (n noop) Throttle(ctx context.Context) error { return ctx.Err() }

func (n noop) Interval() time.Duration { return n.interval }

// NewThrottler returns a Limiter when enabled, or a no-op Throttler that
// reports the same nominal interval. The choice is made once, here.
func NewThrottler(targetTps uint32, enabled bool) (Throttler, error) {
	if targetTps == 0 {
		return nil, ErrInvalidRate
	}
	if !enabled {
		return noop{interval: intervalFor(targetTps)}, nil
	}
	return New(targetTps)
}
