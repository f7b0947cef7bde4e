package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SimCollector bundles Prometheus metrics for the clustering protocol and
// provides a ready-to-serve /metrics handler.
type SimCollector struct {
	gatherer prometheus.Gatherer

	ClusterHeads   prometheus.Gauge
	ClusterMembers prometheus.Gauge
	OrphanNodes    prometheus.Gauge

	EnergyTotal   prometheus.Gauge
	EnergyAverage prometheus.Gauge

	Rounds        prometheus.Counter
	HeadsPerRound prometheus.Histogram
	Transmissions *prometheus.CounterVec
	FailedNodes   prometheus.Counter
}

// NewSimCollector registers protocol Prometheus metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	heads, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cluster_heads",
		Help: "Current number of cluster heads in the active topology.",
	}), "cluster_heads")
	if err != nil {
		return nil, err
	}
	members, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cluster_members",
		Help: "Current number of member nodes attached to a cluster head.",
	}), "cluster_members")
	if err != nil {
		return nil, err
	}
	orphans, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orphan_nodes",
		Help: "Current number of active nodes attached to no cluster.",
	}), "orphan_nodes")
	if err != nil {
		return nil, err
	}
	energyTotal, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "node_energy_total_joules",
		Help: "Sum of remaining energy across all tracked nodes.",
	}), "node_energy_total_joules")
	if err != nil {
		return nil, err
	}
	energyAverage, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "node_energy_average_joules",
		Help: "Average remaining energy across all tracked nodes.",
	}), "node_energy_average_joules")
	if err != nil {
		return nil, err
	}

	rounds := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cluster_rounds_total",
		Help: "Total number of completed election rounds.",
	})
	rounds, err = registerCounter(reg, rounds, "cluster_rounds_total")
	if err != nil {
		return nil, err
	}

	headsPerRound := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cluster_heads_per_round",
		Help:    "Distribution of elected head counts per round.",
		Buckets: prometheus.LinearBuckets(0, 1, 11),
	})
	headsPerRound, err = registerHistogram(reg, headsPerRound, "cluster_heads_per_round")
	if err != nil {
		return nil, err
	}

	transmissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "transmissions_total",
		Help: "Total number of simulated sends, labeled by kind (intra_cluster, inter_cluster).",
	}, []string{"kind"})
	transmissions, err = registerCounterVec(reg, transmissions, "transmissions_total")
	if err != nil {
		return nil, err
	}

	failed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "failed_nodes_total",
		Help: "Total number of nodes declared failed by the failure detector.",
	})
	failed, err = registerCounter(reg, failed, "failed_nodes_total")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:       gatherer,
		ClusterHeads:   heads,
		ClusterMembers: members,
		OrphanNodes:    orphans,
		EnergyTotal:    energyTotal,
		EnergyAverage:  energyAverage,
		Rounds:         rounds,
		HeadsPerRound:  headsPerRound,
		Transmissions:  transmissions,
		FailedNodes:    failed,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetClusterCounts satisfies the SimMetricsRecorder interface so the
// SimulationState can drive gauge values directly from its mutators.
func (c *SimCollector) SetClusterCounts(heads, members, orphans int) {
	if c == nil {
		return
	}
	if c.ClusterHeads != nil {
		c.ClusterHeads.Set(float64(heads))
	}
	if c.ClusterMembers != nil {
		c.ClusterMembers.Set(float64(members))
	}
	if c.OrphanNodes != nil {
		c.OrphanNodes.Set(float64(orphans))
	}
}

// SetEnergyStats records the fleet-wide energy aggregates.
func (c *SimCollector) SetEnergyStats(total, average float64) {
	if c == nil {
		return
	}
	if c.EnergyTotal != nil {
		c.EnergyTotal.Set(total)
	}
	if c.EnergyAverage != nil {
		c.EnergyAverage.Set(average)
	}
}

// RoundCompleted counts a finished round and records its head count.
func (c *SimCollector) RoundCompleted(heads int) {
	if c == nil {
		return
	}
	if c.Rounds != nil {
		c.Rounds.Inc()
	}
	if c.HeadsPerRound != nil {
		c.HeadsPerRound.Observe(float64(heads))
	}
}

// TransmissionSent counts one simulated send of the given kind.
func (c *SimCollector) TransmissionSent(kind string) {
	if c == nil || c.Transmissions == nil {
		return
	}
	c.Transmissions.WithLabelValues(kind).Inc()
}

// NodesFailed counts nodes newly declared failed.
func (c *SimCollector) NodesFailed(count int) {
	if c == nil || c.FailedNodes == nil {
		return
	}
	c.FailedNodes.Add(float64(count))
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, histogram prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(histogram); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return histogram, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
