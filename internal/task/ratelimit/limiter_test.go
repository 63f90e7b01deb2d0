package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBurstIsNotThrottled(t *testing.T) {
	t.Parallel()
	l := New(time.Second, 5)
	start := time.Now()
	for i := 0; i < 5; i++ {
		waited, err := l.Wait(context.Background())
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
		if waited != 0 {
			t.Fatalf("request %d waited %v inside burst", i+1, waited)
		}
	}
	if el := time.Since(start); el > 200*time.Millisecond {
		t.Fatalf("burst took %v", el)
	}
	if l.Count() != 5 {
		t.Fatalf("Count = %d, want 5", l.Count())
	}
}

func TestThrottleAfterBurst(t *testing.T) {
	t.Parallel()
	const (
		burst = 2
		delay = 40 * time.Millisecond
		n     = 5
	)
	l := New(delay, burst)
	start := time.Now()
	for i := 0; i < n; i++ {
		if _, err := l.Wait(context.Background()); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	min := time.Duration(n-burst) * delay
	// rate.Limiter works at sub-millisecond precision; allow a little slack.
	if el := time.Since(start); el < min-5*time.Millisecond {
		t.Fatalf("%d requests took %v, want at least %v", n, el, min)
	}
}

func TestElapsedTimeCountsTowardSpacing(t *testing.T) {
	t.Parallel()
	l := New(30*time.Millisecond, 1)
	if _, err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(40 * time.Millisecond)
	waited, err := l.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if waited != 0 {
		t.Fatalf("waited %v although delay already elapsed", waited)
	}
}

func TestZeroBurstFirstRequestFree(t *testing.T) {
	t.Parallel()
	l := New(time.Hour, 0)
	waited, err := l.Wait(context.Background())
	if err != nil || waited != 0 {
		t.Fatalf("first request: waited=%v err=%v", waited, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second request err = %v, want deadline exceeded", err)
	}
	if l.Count() != 1 {
		t.Fatalf("cancelled wait must not count, Count = %d", l.Count())
	}
}

func TestResetRestoresBurst(t *testing.T) {
	t.Parallel()
	l := New(time.Hour, 1)
	if _, err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	l.Reset()
	waited, err := l.Wait(context.Background())
	if err != nil || waited != 0 {
		t.Fatalf("after reset: waited=%v err=%v", waited, err)
	}
}

func TestCancelledContextReturnsImmediately(t *testing.T) {
	t.Parallel()
	l := New(time.Second, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSetDelayZeroDisablesSpacing(t *testing.T) {
	t.Parallel()
	l := New(time.Hour, 1)
	if _, err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	l.SetDelay(0)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := l.Wait(ctx); err != nil {
		t.Fatalf("Wait after SetDelay(0): %v", err)
	}
	if l.Delay() != 0 {
		t.Fatalf("Delay = %v", l.Delay())
	}
}

func TestPendingDoesNotRegister(t *testing.T) {
	t.Parallel()
	l := New(time.Second, 1)
	if d := l.Pending(time.Now()); d != 0 {
		t.Fatalf("Pending before burst = %v", d)
	}
	if _, err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	d := l.Pending(time.Now())
	if d <= 900*time.Millisecond || d > time.Second {
		t.Fatalf("Pending after burst = %v, want about 1s", d)
	}
	if l.Count() != 1 {
		t.Fatalf("Pending changed Count to %d", l.Count())
	}
	if d2 := l.Pending(time.Now()); d2 > time.Second || d2 < d-100*time.Millisecond {
		t.Fatalf("second Pending = %v, reservation leaked", d2)
	}
}
