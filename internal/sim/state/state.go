// Package state owns the aggregate mutable state of a simulation run: the
// node registry, the energy store, and the current round's cluster table.
// Components receive this aggregate explicitly instead of reaching for
// process-wide tables, so independent simulations can run side by side in
// tests.
package state

import (
	"sync"

	"github.com/signalsfoundry/sensornet-simulator/core"
	"github.com/signalsfoundry/sensornet-simulator/internal/logging"
	"github.com/signalsfoundry/sensornet-simulator/kb"
	"github.com/signalsfoundry/sensornet-simulator/model"
)

// SimMetricsRecorder receives protocol-level gauge and counter updates.
// The Prometheus collector implements it; tests use a stub.
type SimMetricsRecorder interface {
	SetClusterCounts(heads, members, orphans int)
	SetEnergyStats(total, average float64)
	RoundCompleted(heads int)
	TransmissionSent(kind string)
	NodesFailed(count int)
}

// SimulationState wires together the knowledge base, the configured energy
// store, and the cluster table for the current round.
type SimulationState struct {
	mu sync.RWMutex

	nodes  *kb.KnowledgeBase
	energy core.EnergyStore

	table  model.ClusterTable
	failed map[model.NodeID]bool
	sink   *model.NodeID

	log     logging.Logger
	metrics SimMetricsRecorder
}

// Option customises SimulationState construction.
type Option func(*SimulationState)

// WithMetricsRecorder attaches an optional recorder for protocol metrics.
func WithMetricsRecorder(m SimMetricsRecorder) Option {
	return func(s *SimulationState) { s.metrics = m }
}

// WithSinkID identifies the sink node, which takes no part in clustering
// and is excluded from the orphan count.
func WithSinkID(id model.NodeID) Option {
	return func(s *SimulationState) { s.sink = &id }
}

// NewSimulationState builds the aggregate around an existing node registry
// and energy store.
func NewSimulationState(nodes *kb.KnowledgeBase, energy core.EnergyStore, log logging.Logger, opts ...Option) *SimulationState {
	if log == nil {
		log = logging.Noop()
	}
	s := &SimulationState{
		nodes:  nodes,
		energy: energy,
		table:  make(model.ClusterTable),
		failed: make(map[model.NodeID]bool),
		log:    log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Nodes returns the node registry.
func (s *SimulationState) Nodes() *kb.KnowledgeBase { return s.nodes }

// Energy returns the configured energy store.
func (s *SimulationState) Energy() core.EnergyStore { return s.energy }

// ReplaceClusterTable installs a freshly built table for a new round,
// discarding the previous one, and refreshes the cluster metrics.
func (s *SimulationState) ReplaceClusterTable(table model.ClusterTable) {
	s.mu.Lock()
	s.table = table
	s.mu.Unlock()
	s.refreshClusterMetrics()
}

// ClusterTable returns the live table. Callers inside the event loop may
// mutate it (formation, pruning); reporting paths should use Snapshot.
func (s *SimulationState) ClusterTable() model.ClusterTable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table
}

// Snapshot returns a deep copy of the cluster table safe for read-only
// consumers outside the event loop.
func (s *SimulationState) Snapshot() model.ClusterTable {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := make(model.ClusterTable, len(s.table))
	for head, cluster := range s.table {
		c := &model.Cluster{HeadID: cluster.HeadID}
		if cluster.BackupHeadID != nil {
			id := *cluster.BackupHeadID
			c.BackupHeadID = &id
		}
		c.Members = append([]model.NodeID(nil), cluster.Members...)
		copied[head] = c
	}
	return copied
}

// MarkFailed records nodes pruned by the failure detector and updates the
// failure counter. Already-failed nodes are not double counted.
func (s *SimulationState) MarkFailed(ids []model.NodeID) {
	if len(ids) == 0 {
		return
	}
	s.mu.Lock()
	fresh := 0
	for _, id := range ids {
		if !s.failed[id] {
			s.failed[id] = true
			fresh++
		}
	}
	s.mu.Unlock()

	if fresh > 0 && s.metrics != nil {
		s.metrics.NodesFailed(fresh)
	}
	s.refreshClusterMetrics()
}

// IsFailed reports whether the node has been pruned.
func (s *SimulationState) IsFailed(id model.NodeID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failed[id]
}

// ActiveNodeIDs returns registered nodes that have not failed, in
// ascending order.
func (s *SimulationState) ActiveNodeIDs() []model.NodeID {
	all := s.nodes.ListNodeIDs()
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := make([]model.NodeID, 0, len(all))
	for _, id := range all {
		if !s.failed[id] {
			active = append(active, id)
		}
	}
	return active
}

// RoundCompleted forwards round progress to the metrics recorder.
func (s *SimulationState) RoundCompleted(heads int) {
	if s.metrics != nil {
		s.metrics.RoundCompleted(heads)
	}
}

// TransmissionSent forwards a single send to the metrics recorder.
func (s *SimulationState) TransmissionSent(kind string) {
	if s.metrics != nil {
		s.metrics.TransmissionSent(kind)
	}
}

// RefreshEnergyMetrics pushes total/average remaining energy to the
// recorder; a no-op unless the energy store is the manual ledger, which is
// the only implementation exposing aggregates.
func (s *SimulationState) RefreshEnergyMetrics() {
	if s.metrics == nil {
		return
	}
	ledger, ok := s.energy.(*core.EnergyLedger)
	if !ok {
		return
	}
	s.metrics.SetEnergyStats(ledger.TotalRemaining(), ledger.AverageRemaining())
}

func (s *SimulationState) refreshClusterMetrics() {
	if s.metrics == nil {
		return
	}
	s.mu.RLock()
	heads := len(s.table)
	members := 0
	assigned := make(map[model.NodeID]bool, heads)
	for head, cluster := range s.table {
		members += len(cluster.Members)
		assigned[head] = true
		for _, m := range cluster.Members {
			assigned[m] = true
		}
	}
	failed := len(s.failed)
	s.mu.RUnlock()

	total := 0
	for _, id := range s.nodes.ListNodeIDs() {
		if s.sink != nil && id == *s.sink {
			continue
		}
		total++
	}
	orphans := total - len(assigned) - failed
	if orphans < 0 {
		orphans = 0
	}
	s.metrics.SetClusterCounts(heads, members, orphans)
}
