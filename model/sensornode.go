package model

// NodeID is an opaque handle for a sensor node. Energy and cluster role are
// tracked elsewhere (energy ledger, cluster table) so the node itself stays
// immutable after registration.
type NodeID uint32

// SensorNode represents a fixed wireless sensor device.
type SensorNode struct {
	ID   NodeID
	Name string

	// HighPriority marks nodes whose traffic is transmitted at the
	// priority power tier regardless of distance. Only consulted when the
	// priority-aware power profile is active.
	HighPriority bool
}
