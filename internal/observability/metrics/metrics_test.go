package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/IReaderorg/IReader-sub034/internal/eventbus"
	"github.com/IReaderorg/IReader-sub034/internal/task/batch"
)

func value(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	var m dto.Metric
	if err := (<-ch).Write(&m); err != nil {
		t.Fatal(err)
	}
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	case m.Histogram != nil:
		return float64(m.Histogram.GetSampleCount())
	}
	t.Fatal("unsupported metric")
	return 0
}

func TestObserve(t *testing.T) {
	t.Parallel()
	m := New(prometheus.NewRegistry(), nil)

	m.Observe(eventbus.Event{Type: batch.EventItemStarted, Data: batch.ItemEvent{EngineID: "openai"}})
	m.Observe(eventbus.Event{Type: batch.EventItemFinished, Data: batch.ItemEvent{EngineID: "openai", Status: "completed", Duration: time.Second}})
	m.Observe(eventbus.Event{Type: batch.EventItemFinished, Data: batch.ItemEvent{EngineID: "openai", Status: "failed"}})
	m.Observe(eventbus.Event{Type: batch.EventRateLimitWait, Data: batch.WaitEvent{EngineID: "openai", Waited: 3 * time.Second}})
	m.Observe(eventbus.Event{Type: batch.EventBatchPreempted, Data: batch.BatchEvent{BookID: 1}})
	m.Observe(eventbus.Event{Type: batch.EventState, Data: batch.StateEvent{State: batch.StateRunning, Queued: 4}})
	m.Observe(eventbus.Event{Type: batch.EventLoopFailed, Data: batch.StateEvent{State: batch.StateIdle, Queued: 3}})

	if got := value(t, m.ItemsTotal.WithLabelValues("openai", "completed")); got != 1 {
		t.Fatalf("completed = %v", got)
	}
	if got := value(t, m.ItemsTotal.WithLabelValues("openai", "failed")); got != 1 {
		t.Fatalf("failed = %v", got)
	}
	if got := value(t, m.ItemDuration.WithLabelValues("openai").(prometheus.Histogram)); got != 1 {
		t.Fatalf("duration samples = %v", got)
	}
	if got := value(t, m.RateLimitWait.WithLabelValues("openai").(prometheus.Histogram)); got != 1 {
		t.Fatalf("wait samples = %v", got)
	}
	if got := value(t, m.BatchEventsTotal.WithLabelValues(batch.EventBatchPreempted)); got != 1 {
		t.Fatalf("preempted = %v", got)
	}
	if got := value(t, m.LoopFailuresTotal); got != 1 {
		t.Fatalf("loop failures = %v", got)
	}
	if got := value(t, m.QueueDepth); got != 3 {
		t.Fatalf("queue depth = %v", got)
	}
	if value(t, m.State.WithLabelValues("idle")) != 1 || value(t, m.State.WithLabelValues("running")) != 0 {
		t.Fatal("state gauge not switched back to idle")
	}
}

func TestRunConsumesBus(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	m := New(prometheus.NewRegistry(), bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, bus) }()

	deadline := time.Now().Add(2 * time.Second)
	for value(t, m.ItemsTotal.WithLabelValues("pseudo", "completed")) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event not observed")
		}
		bus.Publish(eventbus.Event{Type: batch.EventItemFinished, Data: batch.ItemEvent{EngineID: "pseudo", Status: "completed"}})
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("Run = %v", err)
	}
}
