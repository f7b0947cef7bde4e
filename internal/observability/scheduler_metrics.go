package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/sensornet-simulator/internal/sched"
)

var _ sched.Metrics = (*SchedCollector)(nil)

// SchedCollector exposes event-scheduler Prometheus metrics. It satisfies
// the sched.Metrics interface.
type SchedCollector struct {
	gatherer prometheus.Gatherer

	EventQueueDepth prometheus.Gauge
	EventsExecuted  prometheus.Counter
	EventsCancelled prometheus.Counter
	EventFireLag    prometheus.Histogram
}

// NewSchedCollector registers event-scheduler metrics against the provided
// registerer.
func NewSchedCollector(reg prometheus.Registerer) (*SchedCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	depth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_event_queue_depth",
		Help: "Number of pending, non-cancelled events in the scheduler queue.",
	})
	depth, err := registerGauge(reg, depth, "sim_event_queue_depth")
	if err != nil {
		return nil, err
	}

	executed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_events_executed_total",
		Help: "Cumulative number of executed scheduler events.",
	})
	executed, err = registerCounter(reg, executed, "sim_events_executed_total")
	if err != nil {
		return nil, err
	}

	cancelled := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_events_cancelled_total",
		Help: "Cumulative number of cancelled scheduler events.",
	})
	cancelled, err = registerCounter(reg, cancelled, "sim_events_cancelled_total")
	if err != nil {
		return nil, err
	}

	fireLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_event_fire_lag_seconds",
		Help:    "How far behind its target simulation time each event fired.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})
	fireLag, err = registerHistogram(reg, fireLag, "sim_event_fire_lag_seconds")
	if err != nil {
		return nil, err
	}

	return &SchedCollector{
		gatherer:        gatherer,
		EventQueueDepth: depth,
		EventsExecuted:  executed,
		EventsCancelled: cancelled,
		EventFireLag:    fireLag,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SchedCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// SetQueueDepth updates the queue depth gauge.
func (c *SchedCollector) SetQueueDepth(n int) {
	if c == nil || c.EventQueueDepth == nil {
		return
	}
	c.EventQueueDepth.Set(float64(n))
}

// EventExecuted records one executed event and its fire lag. Negative lag
// (an early fire under a hand-driven clock) is clamped to zero.
func (c *SchedCollector) EventExecuted(lag time.Duration) {
	if c == nil {
		return
	}
	if c.EventsExecuted != nil {
		c.EventsExecuted.Inc()
	}
	if c.EventFireLag != nil {
		if lag < 0 {
			lag = 0
		}
		c.EventFireLag.Observe(lag.Seconds())
	}
}

// EventCancelled increments the cancellation counter.
func (c *SchedCollector) EventCancelled() {
	if c == nil || c.EventsCancelled == nil {
		return
	}
	c.EventsCancelled.Inc()
}
