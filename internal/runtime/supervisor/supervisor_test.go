package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRecordsFirstErrorAndPanics(t *testing.T) {
	s := NewSupervisor(context.Background())
	boom := errors.New("boom")
	s.Go("fails", func(context.Context) error { return boom })
	s.Go("panics", func(context.Context) error { panic("oops") })
	s.Go("cancelled", func(context.Context) error { return context.Canceled })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err == nil {
		t.Fatal("Wait returned nil")
	}

	snap := s.Snapshot()
	if snap.Active != 0 || len(snap.Goroutines) != 3 {
		t.Fatalf("snapshot = %+v", snap)
	}
	for _, g := range snap.Goroutines {
		switch g.Name {
		case "panics":
			if g.Panics != 1 || g.LastErr == "" {
				t.Fatalf("panics stats = %+v", g)
			}
		case "cancelled":
			if g.LastErr != "" {
				t.Fatalf("cancellation recorded as error: %+v", g)
			}
		}
	}
}

func TestCancelOnError(t *testing.T) {
	s := NewSupervisor(context.Background(), WithCancelOnError(true))
	s.Go("waiter", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	s.Go("fails", func(context.Context) error { return errors.New("fatal") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err == nil || ctx.Err() != nil {
		t.Fatalf("Wait = %v, ctx = %v", err, ctx.Err())
	}
}

func TestGoRestartRetriesUntilSuccess(t *testing.T) {
	s := NewSupervisor(context.Background())
	var calls atomic.Int32
	s.GoRestart("flaky", func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, RestartPolicy{MinBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d", calls.Load())
	}
	if g := s.Snapshot().Goroutines[0]; g.Restarts != 2 {
		t.Fatalf("restarts = %d", g.Restarts)
	}
}

func TestGoRestartGivesUp(t *testing.T) {
	s := NewSupervisor(context.Background())
	s.GoRestart("broken", func(context.Context) error { return errors.New("nope") },
		RestartPolicy{MinBackoff: time.Millisecond, MaxBackoff: time.Millisecond, MaxRestarts: 2})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err == nil {
		t.Fatal("expected give-up error")
	}
}

func TestStopCancelsContext(t *testing.T) {
	s := NewSupervisor(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
