package kb

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/signalsfoundry/sensornet-simulator/core"
	"github.com/signalsfoundry/sensornet-simulator/model"
)

// SensorField summarises what was loaded from JSON: the protocol node
// ids and the sink id.
type SensorField struct {
	NodeIDs []model.NodeID
	SinkID  model.NodeID
}

// Unexported JSON shapes keep the wire format decoupled from model types.
type sensorFieldJSON struct {
	Sink  *sensorNodeJSON  `json:"sink"`
	Nodes []sensorNodeJSON `json:"nodes"`
}

type sensorNodeJSON struct {
	ID           uint32       `json:"id"`
	Name         string       `json:"name"`
	HighPriority bool         `json:"high_priority"`
	Position     positionJSON `json:"position"`
}

type positionJSON struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// LoadSensorField reads a JSON field description from r, registers every
// sensor node and the sink with the KnowledgeBase, and returns a summary
// of what was loaded.
//
// It fails on JSON / structural errors and on duplicate node IDs; beyond
// that it relies on KB invariants rather than re-validating everything
// here.
func LoadSensorField(kb *KnowledgeBase, r io.Reader) (*SensorField, error) {
	if kb == nil {
		return nil, fmt.Errorf("LoadSensorField: kb is nil")
	}

	var payload sensorFieldJSON
	dec := json.NewDecoder(r)
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("LoadSensorField: decode failed: %w", err)
	}
	if payload.Sink == nil {
		return nil, fmt.Errorf("LoadSensorField: field has no sink")
	}
	if len(payload.Nodes) == 0 {
		return nil, fmt.Errorf("LoadSensorField: field has no sensor nodes")
	}

	result := &SensorField{
		NodeIDs: make([]model.NodeID, 0, len(payload.Nodes)),
		SinkID:  model.NodeID(payload.Sink.ID),
	}

	for _, js := range payload.Nodes {
		if model.NodeID(js.ID) == result.SinkID {
			return nil, fmt.Errorf("LoadSensorField: node %d reuses the sink id", js.ID)
		}
		if err := addFieldNode(kb, js); err != nil {
			return nil, err
		}
		result.NodeIDs = append(result.NodeIDs, model.NodeID(js.ID))
	}

	if err := addFieldNode(kb, *payload.Sink); err != nil {
		return nil, err
	}

	return result, nil
}

func addFieldNode(kb *KnowledgeBase, js sensorNodeJSON) error {
	node := &model.SensorNode{
		ID:           model.NodeID(js.ID),
		Name:         js.Name,
		HighPriority: js.HighPriority,
	}
	pos := core.Vec2{X: js.Position.X, Y: js.Position.Y}
	if err := kb.AddNode(node, pos); err != nil {
		return fmt.Errorf("LoadSensorField: node %d: %w", js.ID, err)
	}
	return nil
}
