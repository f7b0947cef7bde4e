// Package sim contains the round scheduler: the state machine that drives
// head election, cluster formation, communication, failure detection, and
// energy reporting on their respective cadences.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/sensornet-simulator/core"
	"github.com/signalsfoundry/sensornet-simulator/internal/logging"
	"github.com/signalsfoundry/sensornet-simulator/internal/sched"
	"github.com/signalsfoundry/sensornet-simulator/internal/sim/state"
	"github.com/signalsfoundry/sensornet-simulator/kb"
	"github.com/signalsfoundry/sensornet-simulator/model"
)

// Phase is the round scheduler's current position in its cycle. Transient
// phases exist only within a single event execution; between events the
// scheduler always reads Idle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseElecting
	PhaseForming
	PhaseCommunicating
	PhaseFailureChecking
)

func (p Phase) String() string {
	switch p {
	case PhaseElecting:
		return "electing"
	case PhaseForming:
		return "forming"
	case PhaseCommunicating:
		return "communicating"
	case PhaseFailureChecking:
		return "failure-checking"
	default:
		return "idle"
	}
}

// RoundScheduler periodically re-clusters the network and keeps the
// communication, failure-check, and reporting cadences running until
// stopped. All activity happens on the event scheduler's single logical
// thread.
type RoundScheduler struct {
	cfg      Config
	sim      *state.SimulationState
	events   sched.EventScheduler
	clusters *core.ClusterManager
	failures *core.FailureDetector
	reporter *state.EnergyReporter
	log      logging.Logger
	tracer   trace.Tracer

	mu    sync.Mutex
	round uint64
	phase Phase
	// commHandles tracks every self-rescheduling send of the current
	// cluster generation, keyed by transmitting node, so both a table
	// rebuild and a single node failure can cancel precisely.
	commHandles map[model.NodeID][]*sched.RepeatHandle
	cadences    []*sched.RepeatHandle
	started     bool

	unsubscribe func()
}

// NewRoundScheduler wires the protocol components onto an event scheduler.
func NewRoundScheduler(cfg Config, simState *state.SimulationState, events sched.EventScheduler, clusters *core.ClusterManager, reporter *state.EnergyReporter, log logging.Logger) (*RoundScheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("round scheduler config: %w", err)
	}
	if log == nil {
		log = logging.Noop()
	}
	rs := &RoundScheduler{
		cfg:         cfg,
		sim:         simState,
		events:      events,
		clusters:    clusters,
		failures:    core.NewFailureDetector(cfg.DeathFloor, log),
		reporter:    reporter,
		log:         log,
		tracer:      otel.Tracer("sensornet-simulator/sim"),
		commHandles: make(map[model.NodeID][]*sched.RepeatHandle),
	}

	// A deregistered node must stop transmitting immediately and report
	// fresh if it ever re-registers.
	rs.unsubscribe = simState.Nodes().Subscribe(func(ev kb.Event) {
		if ev.Type != kb.EventNodeRemoved {
			return
		}
		rs.cancelCommsFor(ev.Node.ID)
		rs.reporter.Forget(ev.Node.ID)
	})

	return rs, nil
}

// Round returns how many rounds have completed.
func (rs *RoundScheduler) Round() uint64 {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.round
}

// Phase returns the scheduler's current phase.
func (rs *RoundScheduler) Phase() Phase {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.phase
}

// Start enqueues the three periodic cadences. The first round fires one
// RoundInterval after now, matching the protocol's warm-up delay.
func (rs *RoundScheduler) Start(now time.Time) {
	rs.mu.Lock()
	if rs.started {
		rs.mu.Unlock()
		return
	}
	rs.started = true
	rs.mu.Unlock()

	rs.addCadence(sched.Repeat(rs.events, now.Add(rs.cfg.RoundInterval), rs.cfg.RoundInterval, rs.runRound))
	rs.addCadence(sched.Repeat(rs.events, now.Add(rs.cfg.FailureCheckInterval), rs.cfg.FailureCheckInterval, rs.runFailureCheck))
	rs.addCadence(sched.Repeat(rs.events, now.Add(rs.cfg.ReportInterval), rs.cfg.ReportInterval, rs.runReportPass))
}

// Stop cancels every cadence and all outstanding communication tasks. The
// protocol has no terminal state of its own; this is the external stop
// condition.
func (rs *RoundScheduler) Stop() {
	rs.mu.Lock()
	cadences := rs.cadences
	rs.cadences = nil
	rs.mu.Unlock()

	for _, h := range cadences {
		h.Cancel()
	}
	rs.cancelAllComms()
	if rs.unsubscribe != nil {
		rs.unsubscribe()
	}
}

func (rs *RoundScheduler) addCadence(h *sched.RepeatHandle) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.cadences = append(rs.cadences, h)
}

func (rs *RoundScheduler) setPhase(p Phase) {
	rs.mu.Lock()
	rs.phase = p
	rs.mu.Unlock()
}

// runRound executes election, formation, backup selection, and
// communication setup atomically at one simulation instant.
func (rs *RoundScheduler) runRound(now time.Time) {
	rs.mu.Lock()
	round := rs.round + 1
	rs.mu.Unlock()

	ctx, log := logging.WithRoundLogger(context.Background(), rs.log, round)
	ctx, span := rs.tracer.Start(ctx, "cluster_round")
	defer span.End()

	// The previous generation of send tasks references the table being
	// replaced; cancel them before anything else so no stale assignment
	// can fire at this timestamp or later.
	rs.cancelAllComms()

	ids := rs.protocolNodeIDs()

	rs.setPhase(PhaseElecting)
	log.Info(ctx, "starting a new round of cluster head elections")
	table := rs.clusters.ElectHeads(ids, rs.sim.Energy(), rs.cfg.HeadProbability, rs.cfg.EligibilityFloor)

	rs.setPhase(PhaseForming)
	rs.clusters.FormClusters(ids, table)
	rs.clusters.AssignBackups(table, rs.sim.Energy())
	rs.sim.ReplaceClusterTable(table)

	rs.setPhase(PhaseCommunicating)
	if len(table) > 0 {
		rs.setupCommunications(now, table)
	}

	span.SetAttributes(
		attribute.Int64("round", int64(round)),
		attribute.Int("heads", len(table)),
		attribute.Int("nodes", len(ids)),
	)

	rs.mu.Lock()
	rs.round = round
	rs.phase = PhaseIdle
	rs.mu.Unlock()
	rs.sim.RoundCompleted(len(table))
}

// runFailureCheck prunes exhausted nodes on its own cadence, which is not
// synchronized with the round cadence.
func (rs *RoundScheduler) runFailureCheck(now time.Time) {
	rs.setPhase(PhaseFailureChecking)
	defer rs.setPhase(PhaseIdle)

	ids := rs.protocolNodeIDs()
	failed := rs.failures.CheckFailures(ids, rs.sim.Energy(), rs.sim.ClusterTable())
	if len(failed) == 0 {
		return
	}
	rs.sim.MarkFailed(failed)
	for _, id := range failed {
		rs.cancelCommsFor(id)
	}
}

// runReportPass forwards significant energy changes to the report sink and
// refreshes the aggregate energy metrics. Read-only with respect to
// protocol state.
func (rs *RoundScheduler) runReportPass(now time.Time) {
	rs.reporter.ReportPass(now, rs.sim, rs.protocolNodeIDs())
	rs.sim.RefreshEnergyMetrics()

	if ledger, ok := rs.sim.Energy().(*core.EnergyLedger); ok {
		rs.log.Info(context.Background(), "average node energy level",
			logging.Float64("average_energy", ledger.AverageRemaining()),
		)
	}
}

// protocolNodeIDs returns the active sensor nodes, excluding the sink: the
// base station is a collection point, never a protocol participant.
func (rs *RoundScheduler) protocolNodeIDs() []model.NodeID {
	active := rs.sim.ActiveNodeIDs()
	ids := active[:0:0]
	for _, id := range active {
		if id == rs.cfg.SinkID {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
