// Package metrics exports batch scheduler activity as Prometheus metrics.
// It only reads the event bus, so the scheduler has no metrics dependency.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/IReaderorg/IReader-sub034/internal/eventbus"
	"github.com/IReaderorg/IReader-sub034/internal/task/batch"
)

const (
	Namespace = "translatord"
	Subsystem = "batch"
)

var states = []batch.State{batch.StateIdle, batch.StateRunning, batch.StatePaused, batch.StateStopped}

type Metrics struct {
	ItemsTotal        *prometheus.CounterVec
	ItemDuration      *prometheus.HistogramVec
	RateLimitWait     *prometheus.HistogramVec
	BatchEventsTotal  *prometheus.CounterVec
	LoopFailuresTotal prometheus.Counter
	QueueDepth        prometheus.Gauge
	State             *prometheus.GaugeVec
}

// New registers the collectors on reg (the default registerer when nil).
// bus may be nil; when set its drop counter is exported too.
func New(reg prometheus.Registerer, bus eventbus.Bus) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	m := &Metrics{
		ItemsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "items_total",
			Help:      "Chapters that reached a terminal status.",
		}, []string{"engine", "status"}),
		ItemDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "item_duration_seconds",
			Help:      "Time spent translating one chapter.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"engine"}),
		RateLimitWait: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "rate_limit_wait_seconds",
			Help:      "Time the drain loop slept before calling a rate-limited engine.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 3, 5, 10, 30},
		}, []string{"engine"}),
		BatchEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "events_total",
			Help:      "Batch lifecycle events by type.",
		}, []string{"type"}),
		LoopFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "loop_failures_total",
			Help:      "Drain loop panics that left the queue for a later resume.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "queue_depth",
			Help:      "Chapters waiting in the queue.",
		}),
		State: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "state",
			Help:      "1 for the current scheduler state, 0 otherwise.",
		}, []string{"state"}),
	}
	if bus != nil {
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "eventbus_dropped_total",
			Help:      "Events a slow subscriber missed.",
		}, func() float64 { return float64(bus.Dropped()) })
	}
	m.setState(batch.StateIdle, 0)
	return m
}

func (m *Metrics) setState(st batch.State, queued int) {
	for _, s := range states {
		v := 0.0
		if s == st {
			v = 1
		}
		m.State.WithLabelValues(string(s)).Set(v)
	}
	m.QueueDepth.Set(float64(queued))
}

// Observe updates the collectors for one event. Unknown types are ignored.
func (m *Metrics) Observe(e eventbus.Event) {
	switch d := e.Data.(type) {
	case batch.ItemEvent:
		if e.Type != batch.EventItemFinished {
			return
		}
		m.ItemsTotal.WithLabelValues(d.EngineID, d.Status).Inc()
		if d.Duration > 0 {
			m.ItemDuration.WithLabelValues(d.EngineID).Observe(d.Duration.Seconds())
		}
	case batch.WaitEvent:
		m.RateLimitWait.WithLabelValues(d.EngineID).Observe(d.Waited.Seconds())
	case batch.BatchEvent:
		m.BatchEventsTotal.WithLabelValues(e.Type).Inc()
	case batch.StateEvent:
		if e.Type == batch.EventLoopFailed {
			m.LoopFailuresTotal.Inc()
		}
		m.setState(d.State, d.Queued)
	}
}

// Run feeds bus events into Observe until ctx ends.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256, "batch.", "item.", "ratelimit.")
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}
