package core

import (
	"errors"
	"fmt"
	"sync"

	"github.com/signalsfoundry/sensornet-simulator/model"
)

// ErrUnknownNode indicates an energy query referenced a node the ledger has
// never been initialized with.
var ErrUnknownNode = errors.New("unknown node in energy ledger")

// EnergySource is the capability a single node's energy accounting must
// provide. Both the manual ledger entries and the delegated radio model
// satisfy it, so callers never depend on a concrete accounting strategy.
type EnergySource interface {
	// RemainingEnergy returns the node's current energy in joules.
	RemainingEnergy() float64
	// Drain subtracts amount joules, clamping at zero.
	Drain(amount float64)
}

// EnergyLedger owns per-node remaining energy. It is the single source of
// truth for whether a node is still alive. The ledger itself never logs;
// threshold-crossing reporting is a collaborator concern layered on top of
// the query methods.
type EnergyLedger struct {
	mu sync.RWMutex

	remaining map[model.NodeID]float64
	capacity  map[model.NodeID]float64
}

// NewEnergyLedger constructs an empty ledger. Initialize must run before
// any drain or query.
func NewEnergyLedger() *EnergyLedger {
	return &EnergyLedger{
		remaining: make(map[model.NodeID]float64),
		capacity:  make(map[model.NodeID]float64),
	}
}

// Initialize sets every listed node's remaining energy to capacity.
// Re-initializing a node resets it to full capacity.
func (l *EnergyLedger) Initialize(ids []model.NodeID, capacity float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range ids {
		l.remaining[id] = capacity
		l.capacity[id] = capacity
	}
}

// Drain subtracts amount from the node's remaining energy, clamping at
// zero. Draining an unknown node is silently ignored so stale references
// left behind by pruned clusters cannot fault the round loop.
func (l *EnergyLedger) Drain(id model.NodeID, amount float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.remaining[id]
	if !ok {
		return
	}
	cur -= amount
	if cur < 0 {
		cur = 0
	}
	l.remaining[id] = cur
}

// Remaining returns the node's current energy. It fails with ErrUnknownNode
// for nodes the ledger was never initialized with; callers that prefer a
// zero sentinel should use RemainingOrZero.
func (l *EnergyLedger) Remaining(id model.NodeID) (float64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cur, ok := l.remaining[id]
	if !ok {
		return 0, fmt.Errorf("node %d: %w", id, ErrUnknownNode)
	}
	return cur, nil
}

// RemainingOrZero returns the node's current energy, or 0 for unknown
// nodes. A dead node and an unknown node look the same to eligibility
// checks, which is exactly the behaviour election and failure detection
// want.
func (l *EnergyLedger) RemainingOrZero(id model.NodeID) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.remaining[id]
}

// Capacity returns the node's initial energy.
func (l *EnergyLedger) Capacity(id model.NodeID) (float64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cap, ok := l.capacity[id]
	if !ok {
		return 0, fmt.Errorf("node %d: %w", id, ErrUnknownNode)
	}
	return cap, nil
}

// NodeIDs returns every node the ledger tracks, in unspecified order.
func (l *EnergyLedger) NodeIDs() []model.NodeID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]model.NodeID, 0, len(l.remaining))
	for id := range l.remaining {
		ids = append(ids, id)
	}
	return ids
}

// TotalRemaining sums the remaining energy across all tracked nodes.
func (l *EnergyLedger) TotalRemaining() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := 0.0
	for _, cur := range l.remaining {
		total += cur
	}
	return total
}

// AverageRemaining returns the mean remaining energy, or 0 when the ledger
// is empty.
func (l *EnergyLedger) AverageRemaining() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.remaining) == 0 {
		return 0
	}
	total := 0.0
	for _, cur := range l.remaining {
		total += cur
	}
	return total / float64(len(l.remaining))
}

// Source returns an EnergySource view of a single ledger entry or nil for
// unknown nodes.
func (l *EnergyLedger) Source(id model.NodeID) EnergySource {
	l.mu.RLock()
	_, ok := l.remaining[id]
	l.mu.RUnlock()
	if !ok {
		return nil
	}
	return ledgerSource{ledger: l, id: id}
}

type ledgerSource struct {
	ledger *EnergyLedger
	id     model.NodeID
}

func (s ledgerSource) RemainingEnergy() float64 { return s.ledger.RemainingOrZero(s.id) }
func (s ledgerSource) Drain(amount float64)     { s.ledger.Drain(s.id, amount) }
