// Package metrics exposes assistant activity as Prometheus metrics. The
// collector derives everything from bus events, so the listener and router
// stay free of instrumentation code.
package metrics

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/normanking/okpi/internal/bus"
)

// Collector holds the okpi metrics for one registry.
type Collector struct {
	Triggers        prometheus.Counter
	Utterances      *prometheus.CounterVec
	Dispatches      *prometheus.CounterVec
	ModeTransitions *prometheus.CounterVec
	Suppressed      prometheus.Counter
	Outputs         prometheus.Counter
	Failures        prometheus.Counter
	Listening       prometheus.Gauge
	ActiveWindow    prometheus.Histogram

	registry *prometheus.Registry
	now      func() time.Time

	mu          sync.Mutex
	activeSince time.Time
	subs        []bus.SubscriptionID
	bus         *bus.Bus
}

// New registers the okpi metrics on reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Collector{
		Triggers: factory.NewCounter(prometheus.CounterOpts{
			Name: "okpi_triggers_total",
			Help: "Total number of times the trigger phrase was heard",
		}),
		Utterances: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "okpi_utterances_total",
			Help: "Total number of routed utterances by outcome",
		}, []string{"outcome"}),
		Dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "okpi_dispatch_total",
			Help: "Total number of utterances dispatched per skill",
		}, []string{"skill"}),
		ModeTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "okpi_mode_transitions_total",
			Help: "Total number of listening mode changes by target mode",
		}, []string{"to"}),
		Suppressed: factory.NewCounter(prometheus.CounterOpts{
			Name: "okpi_frames_suppressed_total",
			Help: "Total number of audio frames dropped while the assistant was speaking",
		}),
		Outputs: factory.NewCounter(prometheus.CounterOpts{
			Name: "okpi_outputs_total",
			Help: "Total number of texts emitted to the sinks",
		}),
		Failures: factory.NewCounter(prometheus.CounterOpts{
			Name: "okpi_listener_failures_total",
			Help: "Total number of listening sessions ended by an error",
		}),
		Listening: factory.NewGauge(prometheus.GaugeOpts{
			Name: "okpi_listening_active",
			Help: "1 while the listener is in active mode, 0 otherwise",
		}),
		ActiveWindow: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "okpi_active_window_seconds",
			Help:    "Time spent in active mode per trigger",
			Buckets: []float64{1, 2, 4, 8, 16, 32},
		}),
		registry: reg,
		now:      time.Now,
	}
}

// Registry returns the registry the metrics live in.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Observe updates the metrics for one event.
func (c *Collector) Observe(e bus.Event) {
	switch e.Type {
	case bus.EventTriggerHeard:
		c.Triggers.Inc()
	case bus.EventUtteranceMatched:
		c.Utterances.WithLabelValues("matched").Inc()
		c.Dispatches.WithLabelValues(e.Skill).Inc()
	case bus.EventUtteranceFallback:
		c.Utterances.WithLabelValues("fallback").Inc()
	case bus.EventModeChanged:
		c.ModeTransitions.WithLabelValues(e.Mode).Inc()
		c.modeChanged(e.Mode)
	case bus.EventInputMuted:
		c.Suppressed.Inc()
	case bus.EventOutputEmitted:
		c.Outputs.Inc()
	case bus.EventSessionFailed:
		c.Failures.Inc()
		c.modeChanged("")
	case bus.EventSessionStopped:
		c.modeChanged("")
	}
}

func (c *Collector) modeChanged(mode string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if mode == "active" {
		c.Listening.Set(1)
		if c.activeSince.IsZero() {
			c.activeSince = c.now()
		}
		return
	}

	c.Listening.Set(0)
	if !c.activeSince.IsZero() {
		c.ActiveWindow.Observe(c.now().Sub(c.activeSince).Seconds())
		c.activeSince = time.Time{}
	}
}

// Attach feeds every event published on b into the collector.
func (c *Collector) Attach(b *bus.Bus) error {
	id, err := b.Subscribe("", c.Observe)
	if err != nil {
		return fmt.Errorf("subscribe metrics: %w", err)
	}

	c.mu.Lock()
	c.subs = append(c.subs, id)
	c.bus = b
	c.mu.Unlock()
	return nil
}

// Detach stops observing the bus.
func (c *Collector) Detach() {
	c.mu.Lock()
	subs, b := c.subs, c.bus
	c.subs, c.bus = nil, nil
	c.mu.Unlock()

	for _, id := range subs {
		_ = b.Unsubscribe(id)
	}
}
