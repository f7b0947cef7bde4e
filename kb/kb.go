package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/sensornet-simulator/core"
	"github.com/signalsfoundry/sensornet-simulator/model"
)

// Sentinel errors for node lookups.
var (
	// ErrNodeExists indicates a sensor node with the same ID is already registered.
	ErrNodeExists = errors.New("sensor node already exists")
	// ErrNodeNotFound indicates a requested sensor node is not registered.
	ErrNodeNotFound = errors.New("sensor node not found")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventNodeRegistered EventType = iota
	EventNodeRemoved
)

// Event is emitted to subscribers when the node population changes.
type Event struct {
	Type EventType
	Node model.SensorNode
}

// KnowledgeBase is an in-memory, thread-safe registry of sensor nodes and
// their fixed positions. It is the position oracle for cluster formation:
// the clustering layer asks it for pairwise distances and never computes
// positions itself.
type KnowledgeBase struct {
	mu sync.RWMutex

	nodes     map[model.NodeID]*model.SensorNode
	positions map[model.NodeID]core.Vec2

	subs []func(Event)
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		nodes:     make(map[model.NodeID]*model.SensorNode),
		positions: make(map[model.NodeID]core.Vec2),
	}
}

// AddNode registers a sensor node at the given position. It returns
// ErrNodeExists if the ID is already registered.
func (kb *KnowledgeBase) AddNode(n *model.SensorNode, pos core.Vec2) error {
	kb.mu.Lock()
	if _, exists := kb.nodes[n.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("node %d: %w", n.ID, ErrNodeExists)
	}
	kb.nodes[n.ID] = n
	kb.positions[n.ID] = pos
	subs := append([]func(Event){}, kb.subs...)
	event := Event{Type: EventNodeRegistered, Node: *n}
	kb.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	for _, sub := range subs {
		sub(event)
	}
	return nil
}

// RemoveNode deletes a node and its position. Removing an unknown ID is a
// no-op so stale references from pruned clusters stay harmless.
func (kb *KnowledgeBase) RemoveNode(id model.NodeID) {
	kb.mu.Lock()
	n, ok := kb.nodes[id]
	if !ok {
		kb.mu.Unlock()
		return
	}
	event := Event{Type: EventNodeRemoved, Node: *n}
	delete(kb.nodes, id)
	delete(kb.positions, id)
	subs := append([]func(Event){}, kb.subs...)
	kb.mu.Unlock()

	for _, sub := range subs {
		sub(event)
	}
}

// GetNode returns the node with the given ID, or nil if not registered.
func (kb *KnowledgeBase) GetNode(id model.NodeID) *model.SensorNode {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.nodes[id]
}

// ListNodeIDs returns all registered node IDs in ascending order. The
// deterministic ordering keeps election and formation replayable under a
// fixed random seed.
func (kb *KnowledgeBase) ListNodeIDs() []model.NodeID {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	ids := make([]model.NodeID, 0, len(kb.nodes))
	for id := range kb.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ListNodes returns a snapshot slice of all registered nodes.
func (kb *KnowledgeBase) ListNodes() []*model.SensorNode {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]*model.SensorNode, 0, len(kb.nodes))
	for _, n := range kb.nodes {
		res = append(res, n)
	}
	return res
}

// SetPosition updates a node's position. The engine treats positions as
// fixed for the lifetime of a scenario, but scenario loading may place a
// node after registration.
func (kb *KnowledgeBase) SetPosition(id model.NodeID, pos core.Vec2) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if _, ok := kb.nodes[id]; !ok {
		return fmt.Errorf("node %d: %w", id, ErrNodeNotFound)
	}
	kb.positions[id] = pos
	return nil
}

// Position returns a node's position.
func (kb *KnowledgeBase) Position(id model.NodeID) (core.Vec2, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	pos, ok := kb.positions[id]
	if !ok {
		return core.Vec2{}, fmt.Errorf("node %d: %w", id, ErrNodeNotFound)
	}
	return pos, nil
}

// Distance returns the Euclidean distance between two registered nodes.
// It is symmetric in its arguments.
func (kb *KnowledgeBase) Distance(a, b model.NodeID) (float64, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	pa, ok := kb.positions[a]
	if !ok {
		return 0, fmt.Errorf("node %d: %w", a, ErrNodeNotFound)
	}
	pb, ok := kb.positions[b]
	if !ok {
		return 0, fmt.Errorf("node %d: %w", b, ErrNodeNotFound)
	}
	return pa.DistanceTo(pb), nil
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.subs = append(kb.subs, fn)
	idx := len(kb.subs) - 1

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		if idx < 0 || idx >= len(kb.subs) {
			return
		}
		kb.subs = append(kb.subs[:idx], kb.subs[idx+1:]...)
		idx = -1
	}
}
