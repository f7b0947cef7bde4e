package core

import (
	"fmt"
	"sync"

	"github.com/signalsfoundry/sensornet-simulator/model"
)

// EnergyStore is the per-node accounting contract shared by the manual
// ledger and the delegated radio model. Election, failure detection, and
// communication only ever talk to this interface, so either accounting
// strategy can be configured without touching the protocol code.
type EnergyStore interface {
	// Drain subtracts amount joules from the node, clamping at zero.
	// Unknown nodes are ignored.
	Drain(id model.NodeID, amount float64)
	// Remaining returns the node's current energy or ErrUnknownNode.
	Remaining(id model.NodeID) (float64, error)
	// RemainingOrZero returns the node's current energy, 0 for unknown nodes.
	RemainingOrZero(id model.NodeID) float64
}

var (
	_ EnergyStore = (*EnergyLedger)(nil)
	_ EnergyStore = (*RadioEnergyModel)(nil)
)

// RadioDeviceConfig describes the electrical characteristics of a node's
// radio, used when drain is delegated to a device-level consumption model
// instead of the manual ledger.
type RadioDeviceConfig struct {
	SupplyVoltage float64 // volts
	TxCurrent     float64 // amperes while transmitting
	RxCurrent     float64 // amperes while receiving
}

// DefaultRadioDeviceConfig matches a typical low-power 802.11b sensor radio.
func DefaultRadioDeviceConfig() RadioDeviceConfig {
	return RadioDeviceConfig{
		SupplyVoltage: 3.0,
		TxCurrent:     0.0174,
		RxCurrent:     0.0197,
	}
}

// RadioDevice tracks one node's radio energy budget.
type RadioDevice struct {
	cfg       RadioDeviceConfig
	remaining float64
}

// RemainingEnergy implements EnergySource.
func (d *RadioDevice) RemainingEnergy() float64 { return d.remaining }

// Drain implements EnergySource, clamping at zero.
func (d *RadioDevice) Drain(amount float64) {
	d.remaining -= amount
	if d.remaining < 0 {
		d.remaining = 0
	}
}

// DrainTransmit charges the device for seconds of transmission at its
// configured supply voltage and transmit current.
func (d *RadioDevice) DrainTransmit(seconds float64) {
	d.Drain(d.cfg.SupplyVoltage * d.cfg.TxCurrent * seconds)
}

// DrainReceive charges the device for seconds of reception.
func (d *RadioDevice) DrainReceive(seconds float64) {
	d.Drain(d.cfg.SupplyVoltage * d.cfg.RxCurrent * seconds)
}

// RadioEnergyModel is the delegated EnergyStore variant: one RadioDevice
// per node, all exposing the same drain/remaining contract as the manual
// EnergyLedger.
type RadioEnergyModel struct {
	mu      sync.RWMutex
	devices map[model.NodeID]*RadioDevice
}

// NewRadioEnergyModel constructs an empty model.
func NewRadioEnergyModel() *RadioEnergyModel {
	return &RadioEnergyModel{devices: make(map[model.NodeID]*RadioDevice)}
}

// Initialize installs a device with the given capacity for every listed node.
func (m *RadioEnergyModel) Initialize(ids []model.NodeID, capacity float64, cfg RadioDeviceConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.devices[id] = &RadioDevice{cfg: cfg, remaining: capacity}
	}
}

// Drain implements EnergyStore. Unknown nodes are ignored.
func (m *RadioEnergyModel) Drain(id model.NodeID, amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.devices[id]; ok {
		d.Drain(amount)
	}
}

// Remaining implements EnergyStore.
func (m *RadioEnergyModel) Remaining(id model.NodeID) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	if !ok {
		return 0, fmt.Errorf("node %d: %w", id, ErrUnknownNode)
	}
	return d.remaining, nil
}

// RemainingOrZero implements EnergyStore.
func (m *RadioEnergyModel) RemainingOrZero(id model.NodeID) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.devices[id]; ok {
		return d.remaining
	}
	return 0
}

// Device returns the underlying device for a node, or nil when unknown.
func (m *RadioEnergyModel) Device(id model.NodeID) *RadioDevice {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.devices[id]
}
