package sim

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/sensornet-simulator/core"
	"github.com/signalsfoundry/sensornet-simulator/internal/logging"
	"github.com/signalsfoundry/sensornet-simulator/internal/sched"
	"github.com/signalsfoundry/sensornet-simulator/internal/sim/state"
	"github.com/signalsfoundry/sensornet-simulator/kb"
	"github.com/signalsfoundry/sensornet-simulator/model"
)

// fakeClock is a minimal SimClock for driving the event scheduler by hand.
type fakeClock struct {
	mu  sync.RWMutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	return ch
}

func (c *fakeClock) AdvanceTo(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// countingRecorder tallies protocol metrics for assertions.
type countingRecorder struct {
	mu            sync.Mutex
	rounds        []int
	transmissions map[string]int
	failed        int
}

func (r *countingRecorder) SetClusterCounts(heads, members, orphans int) {}
func (r *countingRecorder) SetEnergyStats(total, average float64)        {}

func (r *countingRecorder) RoundCompleted(heads int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rounds = append(r.rounds, heads)
}

func (r *countingRecorder) TransmissionSent(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.transmissions == nil {
		r.transmissions = make(map[string]int)
	}
	r.transmissions[kind]++
}

func (r *countingRecorder) NodesFailed(count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed += count
}

func (r *countingRecorder) sent(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transmissions[kind]
}

const sinkID = model.NodeID(100)

var simStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	clock    *fakeClock
	events   sched.EventScheduler
	sim      *state.SimulationState
	ledger   *core.EnergyLedger
	sink     *state.MemorySink
	recorder *countingRecorder
	rs       *RoundScheduler
}

// newFixture builds a 10-node diagonal field with the sink at the origin
// and the round scheduler started at simStart.
func newFixture(t *testing.T, cfg Config, initialEnergy map[model.NodeID]float64) *fixture {
	t.Helper()

	registry := kb.NewKnowledgeBase()
	var ids []model.NodeID
	for i := 0; i < 10; i++ {
		id := model.NodeID(i)
		ids = append(ids, id)
		if err := registry.AddNode(&model.SensorNode{ID: id}, core.Vec2{X: 10 * float64(i), Y: 10 * float64(i)}); err != nil {
			t.Fatalf("AddNode %d: %v", i, err)
		}
	}
	if err := registry.AddNode(&model.SensorNode{ID: sinkID, Name: "base-station"}, core.Vec2{}); err != nil {
		t.Fatalf("AddNode sink: %v", err)
	}

	ledger := core.NewEnergyLedger()
	ledger.Initialize(ids, cfg.InitialEnergy)
	for id, energy := range initialEnergy {
		ledger.Drain(id, cfg.InitialEnergy-energy)
	}

	recorder := &countingRecorder{}
	simState := state.NewSimulationState(registry, ledger, logging.Noop(), state.WithMetricsRecorder(recorder))

	clock := &fakeClock{now: simStart}
	events := sched.NewEventScheduler(clock)
	manager := core.NewClusterManager(registry, rand.New(rand.NewSource(1)), nil)
	sink := &state.MemorySink{}
	reporter := state.NewEnergyReporter(sink)

	rs, err := NewRoundScheduler(cfg, simState, events, manager, reporter, nil)
	if err != nil {
		t.Fatalf("NewRoundScheduler: %v", err)
	}
	rs.Start(simStart)

	return &fixture{
		clock:    clock,
		events:   events,
		sim:      simState,
		ledger:   ledger,
		sink:     sink,
		recorder: recorder,
		rs:       rs,
	}
}

func (f *fixture) advanceTo(offset time.Duration) {
	f.clock.AdvanceTo(simStart.Add(offset))
	f.events.RunDue()
}

func TestFirstRoundAllHeadsNoMembersNoBackups(t *testing.T) {
	cfg := DefaultConfig(sinkID)
	cfg.HeadProbability = 1.0
	f := newFixture(t, cfg, nil)

	f.advanceTo(20 * time.Second)

	table := f.sim.Snapshot()
	if len(table) != 10 {
		t.Fatalf("%d heads after forced election, want 10", len(table))
	}
	for head, cluster := range table {
		if len(cluster.Members) != 0 {
			t.Fatalf("head %d has members %v, want none (everyone is a head)", head, cluster.Members)
		}
		if cluster.BackupHeadID != nil {
			t.Fatalf("head %d has backup %d, want none (empty membership)", head, *cluster.BackupHeadID)
		}
	}
	if got := f.rs.Round(); got != 1 {
		t.Fatalf("round = %d, want 1", got)
	}
	if got := f.rs.Phase(); got != PhaseIdle {
		t.Fatalf("phase between events = %v, want idle", got)
	}
}

func TestSingleHeadCollectsAllMembers(t *testing.T) {
	cfg := DefaultConfig(sinkID)
	cfg.HeadProbability = 1.0
	// Only node 0 sits strictly above the eligibility floor.
	energies := make(map[model.NodeID]float64)
	for i := 1; i < 10; i++ {
		energies[model.NodeID(i)] = cfg.EligibilityFloor
	}
	f := newFixture(t, cfg, energies)

	f.advanceTo(20 * time.Second)

	table := f.sim.Snapshot()
	if len(table) != 1 {
		t.Fatalf("%d heads, want exactly 1", len(table))
	}
	cluster, ok := table[0]
	if !ok {
		t.Fatalf("node 0 is not the head: %v", table)
	}
	if len(cluster.Members) != 9 {
		t.Fatalf("head 0 has %d members, want all 9 regardless of distance", len(cluster.Members))
	}
	// Formation visits nodes in ascending order, so the equal-energy tie
	// for backup resolves to node 1.
	if cluster.BackupHeadID == nil || *cluster.BackupHeadID != 1 {
		t.Fatalf("backup = %v, want node 1", cluster.BackupHeadID)
	}
}

func TestZeroHeadsRoundDegradesToNoOp(t *testing.T) {
	cfg := DefaultConfig(sinkID)
	cfg.HeadProbability = 0.0
	f := newFixture(t, cfg, nil)

	f.advanceTo(45 * time.Second) // two rounds plus communication windows

	if len(f.sim.Snapshot()) != 0 {
		t.Fatalf("clusters formed with zero election probability")
	}
	if got := f.rs.Round(); got != 2 {
		t.Fatalf("round = %d, want 2 (loop survives head-less rounds)", got)
	}
	if got := f.recorder.sent(kindIntraCluster) + f.recorder.sent(kindInterCluster); got != 0 {
		t.Fatalf("%d transmissions without any cluster", got)
	}
}

func TestInterClusterEnergyAccounting(t *testing.T) {
	cfg := DefaultConfig(sinkID)
	cfg.HeadProbability = 1.0
	f := newFixture(t, cfg, nil)

	// Round at t=20s, first head-to-sink fire at t=25s.
	f.advanceTo(25 * time.Second)

	// Head 0 sits on the sink: short range, 0.2 * 0.8 per fire.
	if got, want := f.ledger.RemainingOrZero(0), 100-0.16; !almostEqual(got, want) {
		t.Fatalf("head 0 energy = %v, want %v", got, want)
	}
	// Head 9 is 90*sqrt(2) ≈ 127m out: long range, 0.2 * 1.5 per fire.
	if got, want := f.ledger.RemainingOrZero(9), 100-0.3; !almostEqual(got, want) {
		t.Fatalf("head 9 energy = %v, want %v", got, want)
	}
	if got := f.recorder.sent(kindInterCluster); got != 10 {
		t.Fatalf("inter-cluster transmissions = %d, want 10", got)
	}
}

func TestIntraClusterEnergyAccounting(t *testing.T) {
	cfg := DefaultConfig(sinkID)
	cfg.HeadProbability = 1.0
	energies := make(map[model.NodeID]float64)
	for i := 1; i < 10; i++ {
		energies[model.NodeID(i)] = cfg.EligibilityFloor
	}
	f := newFixture(t, cfg, energies)

	// Round at t=20s, member sends at t=21s and t=22s.
	f.advanceTo(22 * time.Second)

	// Node 1 is 10*sqrt(2) ≈ 14m from head 0: short range, 0.1 * 0.8 per
	// send, two sends.
	if got, want := f.ledger.RemainingOrZero(1), 10-2*0.08; !almostEqual(got, want) {
		t.Fatalf("member 1 energy = %v, want %v", got, want)
	}
	// Node 5 is 50*sqrt(2) ≈ 70m out: long range, 0.1 * 1.5 per send.
	if got, want := f.ledger.RemainingOrZero(5), 10-2*0.15; !almostEqual(got, want) {
		t.Fatalf("member 5 energy = %v, want %v", got, want)
	}
	if got := f.recorder.sent(kindIntraCluster); got != 18 {
		t.Fatalf("intra-cluster transmissions = %d, want 18 (9 members, 2 sends)", got)
	}
}

func TestTableRebuildCancelsStaleSendTasks(t *testing.T) {
	cfg := DefaultConfig(sinkID)
	cfg.HeadProbability = 1.0
	f := newFixture(t, cfg, nil)

	// Generation 1 inter-cluster fires land at 25s, 30s, 35s. The 40s
	// occurrences are already queued when the second round rebuilds the
	// table at 40s; rebuild must cancel them before they run.
	f.advanceTo(44 * time.Second)

	if got := f.recorder.sent(kindInterCluster); got != 30 {
		t.Fatalf("inter-cluster transmissions = %d, want 30 (3 fires x 10 heads, stale 40s fires cancelled)", got)
	}

	// Generation 2 starts at 45s.
	f.advanceTo(45 * time.Second)
	if got := f.recorder.sent(kindInterCluster); got != 40 {
		t.Fatalf("inter-cluster transmissions = %d, want 40 after new generation fires", got)
	}
}

func TestFailureCheckPrunesAndSilencesNode(t *testing.T) {
	cfg := DefaultConfig(sinkID)
	cfg.HeadProbability = 1.0
	energies := make(map[model.NodeID]float64)
	for i := 1; i < 10; i++ {
		energies[model.NodeID(i)] = cfg.EligibilityFloor
	}
	f := newFixture(t, cfg, energies)

	f.advanceTo(25 * time.Second)
	// Push node 3 below the death floor mid-round.
	f.ledger.Drain(3, f.ledger.RemainingOrZero(3)-4.0)

	// Failure check fires at t=30s.
	f.advanceTo(30 * time.Second)

	for head, cluster := range f.sim.Snapshot() {
		for _, m := range cluster.Members {
			if m == 3 {
				t.Fatalf("failed node 3 still a member of cluster %d", head)
			}
		}
	}
	if !f.sim.IsFailed(3) {
		t.Fatalf("node 3 not marked failed")
	}
	if f.recorder.failed != 1 {
		t.Fatalf("failed metric = %d, want 1", f.recorder.failed)
	}

	// Its send task must be silenced: energy frozen from here on.
	before := f.ledger.RemainingOrZero(3)
	f.advanceTo(38 * time.Second)
	if got := f.ledger.RemainingOrZero(3); got != before {
		t.Fatalf("pruned node 3 kept draining: %v -> %v", before, got)
	}

	// And it stays out of the next election even with certain probability.
	f.advanceTo(40 * time.Second)
	if f.sim.Snapshot().IsHead(3) {
		t.Fatalf("failed node 3 elected head in a later round")
	}
}

func TestReportPassUsesSuppression(t *testing.T) {
	cfg := DefaultConfig(sinkID)
	cfg.HeadProbability = 1.0
	f := newFixture(t, cfg, nil)

	// First report pass at t=50s reports every sensor once (baseline).
	// The sink is not a protocol participant and is never reported.
	f.advanceTo(50 * time.Second)
	baseline := len(f.sink.Observations())
	if baseline != 10 {
		t.Fatalf("baseline observations = %d, want 10", baseline)
	}

	// Head 0 drains 0.16 per 5s: far below 5% of 100 by t=100s, so the
	// second pass suppresses it; distant heads drained 0.3 per fire also
	// stay below the threshold. Nothing new should be reported.
	f.advanceTo(100 * time.Second)
	if got := len(f.sink.Observations()); got != baseline {
		t.Fatalf("observations grew from %d to %d despite sub-5%% drops", baseline, got)
	}
}

func TestNodeRemovalSilencesSendsAndResetsReporting(t *testing.T) {
	cfg := DefaultConfig(sinkID)
	cfg.HeadProbability = 1.0
	energies := make(map[model.NodeID]float64)
	for i := 1; i < 10; i++ {
		energies[model.NodeID(i)] = cfg.EligibilityFloor
	}
	f := newFixture(t, cfg, energies)

	f.advanceTo(25 * time.Second)
	f.sim.Nodes().RemoveNode(2)

	before := f.ledger.RemainingOrZero(2)
	f.advanceTo(35 * time.Second)
	if got := f.ledger.RemainingOrZero(2); got != before {
		t.Fatalf("deregistered node 2 kept draining: %v -> %v", before, got)
	}

	// Report pass at t=50s skips the unknown node entirely.
	f.advanceTo(50 * time.Second)
	for _, obs := range f.sink.Observations() {
		if obs.NodeID == 2 {
			t.Fatalf("deregistered node 2 was reported: %+v", obs)
		}
	}
}

func TestStopCancelsEverything(t *testing.T) {
	cfg := DefaultConfig(sinkID)
	cfg.HeadProbability = 1.0
	f := newFixture(t, cfg, nil)

	f.advanceTo(25 * time.Second)
	f.rs.Stop()

	roundsBefore := f.rs.Round()
	sendsBefore := f.recorder.sent(kindInterCluster)

	f.advanceTo(10 * time.Minute)
	if got := f.rs.Round(); got != roundsBefore {
		t.Fatalf("rounds advanced after Stop: %d -> %d", roundsBefore, got)
	}
	if got := f.recorder.sent(kindInterCluster); got != sendsBefore {
		t.Fatalf("sends continued after Stop: %d -> %d", sendsBefore, got)
	}
}

func almostEqual(a, b float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < 1e-9
}
