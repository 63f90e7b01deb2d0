// Package ratelimit spaces out requests to rate-limited translation engines.
//
// The first Burst requests of a batch go out immediately. After that every
// request waits until at least Delay has passed since the previous one.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBurst is the number of requests allowed before throttling engages.
// It is fixed for the service and not exposed through configuration.
const DefaultBurst = 5

// Limiter counts requests since the batch started and enforces the post-burst
// spacing with a single-token rate.Limiter.
type Limiter struct {
	mu    sync.Mutex
	delay time.Duration
	burst int
	count int

	// spacing is armed by the last burst request; nil until then.
	spacing *rate.Limiter
}

func New(delay time.Duration, burst int) *Limiter {
	if delay < 0 {
		delay = 0
	}
	if burst < 0 {
		burst = 0
	}
	return &Limiter{delay: delay, burst: burst}
}

func every(d time.Duration) rate.Limit {
	if d <= 0 {
		return rate.Inf
	}
	return rate.Every(d)
}

// Reset starts a new batch: the burst allowance is restored.
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.count = 0
	l.spacing = nil
	l.mu.Unlock()
}

// SetDelay changes the spacing. It applies from the next request on.
func (l *Limiter) SetDelay(d time.Duration) {
	if d < 0 {
		d = 0
	}
	l.mu.Lock()
	l.delay = d
	if l.spacing != nil {
		l.spacing.SetLimit(every(d))
	}
	l.mu.Unlock()
}

func (l *Limiter) Delay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.delay
}

// Count is the number of requests issued since the last Reset.
func (l *Limiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Pending reports how long the next request would wait at now without
// registering it.
func (l *Limiter) Pending(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count+1 <= l.burst || l.spacing == nil {
		return 0
	}
	r := l.spacing.ReserveN(now, 1)
	d := r.DelayFrom(now)
	r.CancelAt(now)
	return d
}

// Wait registers one request and blocks until it may be sent. It returns how
// long it waited. If ctx ends first the request is not counted.
func (l *Limiter) Wait(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mu.Lock()
	n := l.count + 1
	if n <= l.burst || l.spacing == nil {
		l.count = n
		if n >= l.burst {
			l.armLocked()
		}
		l.mu.Unlock()
		return 0, nil
	}
	r := l.spacing.Reserve()
	l.mu.Unlock()

	wait := r.Delay()
	if wait <= 0 {
		l.commit()
		return 0, nil
	}

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		r.Cancel()
		return 0, ctx.Err()
	case <-t.C:
		l.commit()
		return wait, nil
	}
}

func (l *Limiter) commit() {
	l.mu.Lock()
	l.count++
	l.mu.Unlock()
}

// armLocked marks "now" as the last request. The fresh limiter starts with one
// token, which Allow consumes, so the next Reserve is spaced by delay.
func (l *Limiter) armLocked() {
	l.spacing = rate.NewLimiter(every(l.delay), 1)
	l.spacing.Allow()
}
