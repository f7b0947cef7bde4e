package kb

import (
	"errors"
	"testing"

	"github.com/signalsfoundry/sensornet-simulator/core"
	"github.com/signalsfoundry/sensornet-simulator/model"
)

func TestAddAndGetNode(t *testing.T) {
	store := NewKnowledgeBase()
	n := &model.SensorNode{ID: 1, Name: "sensor-1"}
	if err := store.AddNode(n, core.Vec2{X: 10, Y: 10}); err != nil {
		t.Fatalf("AddNode error: %v", err)
	}
	got := store.GetNode(1)
	if got == nil || got.Name != "sensor-1" {
		t.Fatalf("GetNode returned %#v, want name sensor-1", got)
	}
}

func TestAddNodeDuplicate(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddNode(&model.SensorNode{ID: 1}, core.Vec2{}); err != nil {
		t.Fatalf("first AddNode error: %v", err)
	}
	err := store.AddNode(&model.SensorNode{ID: 1}, core.Vec2{})
	if !errors.Is(err, ErrNodeExists) {
		t.Fatalf("duplicate AddNode = %v, want ErrNodeExists", err)
	}
}

func TestDistanceSymmetric(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddNode(&model.SensorNode{ID: 1}, core.Vec2{X: 0, Y: 0}); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := store.AddNode(&model.SensorNode{ID: 2}, core.Vec2{X: 30, Y: 40}); err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	d1, err := store.Distance(1, 2)
	if err != nil {
		t.Fatalf("Distance(1,2): %v", err)
	}
	d2, err := store.Distance(2, 1)
	if err != nil {
		t.Fatalf("Distance(2,1): %v", err)
	}
	if d1 != 50 || d2 != 50 {
		t.Fatalf("Distance = %v / %v, want 50 both ways", d1, d2)
	}
}

func TestDistanceUnknownNode(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddNode(&model.SensorNode{ID: 1}, core.Vec2{}); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if _, err := store.Distance(1, 99); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("Distance to unknown node = %v, want ErrNodeNotFound", err)
	}
}

func TestListNodeIDsSorted(t *testing.T) {
	store := NewKnowledgeBase()
	for _, id := range []model.NodeID{5, 1, 3} {
		if err := store.AddNode(&model.SensorNode{ID: id}, core.Vec2{}); err != nil {
			t.Fatalf("AddNode %d: %v", id, err)
		}
	}
	ids := store.ListNodeIDs()
	want := []model.NodeID{1, 3, 5}
	if len(ids) != len(want) {
		t.Fatalf("ListNodeIDs len = %d, want %d", len(ids), len(want))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ListNodeIDs = %v, want %v", ids, want)
		}
	}
}

func TestRemoveNodeNotifiesSubscribers(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddNode(&model.SensorNode{ID: 7}, core.Vec2{}); err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	var events []Event
	unsubscribe := store.Subscribe(func(ev Event) {
		events = append(events, ev)
	})
	defer unsubscribe()

	store.RemoveNode(7)
	// Unknown removals must stay silent.
	store.RemoveNode(7)

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Type != EventNodeRemoved || events[0].Node.ID != 7 {
		t.Fatalf("unexpected event %+v", events[0])
	}
	if store.GetNode(7) != nil {
		t.Fatalf("node 7 still registered after removal")
	}
}
