// Energy reporting state: which levels observers have already seen, and
// the suppression rule that keeps periodic reports from flooding them.
package state

import (
	"context"
	"sync"
	"time"

	"github.com/signalsfoundry/sensornet-simulator/internal/logging"
	"github.com/signalsfoundry/sensornet-simulator/model"
)

// ReportSink receives energy observations. Append-only; implementations
// must not block the event loop and no acknowledgement is expected.
type ReportSink interface {
	ReportEnergy(timestamp time.Time, id model.NodeID, remaining float64)
}

// reportDropFraction is the minimum relative drop since the last reported
// value before a node is reported again.
const reportDropFraction = 0.05

// EnergyReporter emits per-node energy readings to a sink, suppressing
// nodes whose level has dropped less than 5% since their last report. The
// first observation of a node is always reported.
type EnergyReporter struct {
	mu           sync.Mutex
	sink         ReportSink
	lastReported map[model.NodeID]float64
}

// NewEnergyReporter constructs a reporter for the given sink.
func NewEnergyReporter(sink ReportSink) *EnergyReporter {
	return &EnergyReporter{
		sink:         sink,
		lastReported: make(map[model.NodeID]float64),
	}
}

// ReportPass reads every listed node from the state's energy store and
// forwards significant changes to the sink. It returns how many nodes were
// reported. Reads never mutate simulation state.
func (r *EnergyReporter) ReportPass(now time.Time, s *SimulationState, ids []model.NodeID) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	reported := 0
	for _, id := range ids {
		current := s.Energy().RemainingOrZero(id)
		last, seen := r.lastReported[id]
		if seen && last-current < last*reportDropFraction {
			continue
		}
		r.sink.ReportEnergy(now, id, current)
		r.lastReported[id] = current
		reported++
	}
	return reported
}

// Forget drops a node's reporting history, so a re-initialized node is
// reported again on first sight.
func (r *EnergyReporter) Forget(id model.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lastReported, id)
}

// LogSink is a ReportSink that writes observations to the structured log.
type LogSink struct {
	Log logging.Logger
}

// ReportEnergy implements ReportSink.
func (s LogSink) ReportEnergy(timestamp time.Time, id model.NodeID, remaining float64) {
	s.Log.Info(context.Background(), "node energy level",
		logging.String("sim_time", timestamp.Format(time.RFC3339)),
		logging.Uint32("node", uint32(id)),
		logging.Float64("remaining_energy", remaining),
	)
}

// MemorySink collects observations in memory, for tests and summaries.
type MemorySink struct {
	mu      sync.Mutex
	Entries []EnergyObservation
}

// EnergyObservation is one recorded (timestamp, node, remaining) tuple.
type EnergyObservation struct {
	Timestamp time.Time
	NodeID    model.NodeID
	Remaining float64
}

// ReportEnergy implements ReportSink.
func (s *MemorySink) ReportEnergy(timestamp time.Time, id model.NodeID, remaining float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Entries = append(s.Entries, EnergyObservation{Timestamp: timestamp, NodeID: id, Remaining: remaining})
}

// Observations returns a copy of everything recorded so far.
func (s *MemorySink) Observations() []EnergyObservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]EnergyObservation(nil), s.Entries...)
}
