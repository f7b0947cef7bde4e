package sim

import (
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/sensornet-simulator/core"
	"github.com/signalsfoundry/sensornet-simulator/model"
)

// Config carries every protocol constant a deployment may override.
type Config struct {
	// HeadProbability is the per-node chance of self-electing as cluster
	// head each round.
	HeadProbability float64

	// EligibilityFloor is the minimum remaining energy (exclusive) for a
	// node to be electable as head.
	EligibilityFloor float64

	// DeathFloor is the remaining energy (inclusive) at which a node is
	// considered failed. Must stay strictly below EligibilityFloor.
	DeathFloor float64

	// InitialEnergy is each node's starting capacity in joules.
	InitialEnergy float64

	// RoundInterval is the cadence of election + formation + communication
	// setup.
	RoundInterval time.Duration

	// FailureCheckInterval is the independent cadence of the failure
	// detector; checks may land mid-round.
	FailureCheckInterval time.Duration

	// ReportInterval is the cadence of the energy report pass.
	ReportInterval time.Duration

	// IntraInterval is the self-rescheduling period of member-to-head
	// sends once a cluster exists.
	IntraInterval time.Duration

	// InterInterval is the self-rescheduling period of head-to-sink sends.
	InterInterval time.Duration

	// InterReportSampling logs only every Nth head-to-sink send. Energy
	// accounting still happens on every fire; only the log line is
	// sampled. Zero disables the log entirely.
	InterReportSampling int

	// SinkID identifies the base station. It must be registered with a
	// position but takes no part in election, formation, or failure
	// handling.
	SinkID model.NodeID

	// Profile is the transmit power configuration in effect.
	Profile core.PowerProfile
}

// DefaultConfig returns the standard deployment constants.
func DefaultConfig(sink model.NodeID) Config {
	return Config{
		HeadProbability:      0.2,
		EligibilityFloor:     10.0,
		DeathFloor:           5.0,
		InitialEnergy:        100.0,
		RoundInterval:        20 * time.Second,
		FailureCheckInterval: 10 * time.Second,
		ReportInterval:       50 * time.Second,
		IntraInterval:        1 * time.Second,
		InterInterval:        5 * time.Second,
		InterReportSampling:  5,
		SinkID:               sink,
		Profile:              DistanceProfileDefault(),
	}
}

// DistanceProfileDefault is the distance-only power profile.
func DistanceProfileDefault() core.PowerProfile { return core.DistanceTieredProfile() }

// Validate rejects configurations the protocol cannot run with.
func (c Config) Validate() error {
	if c.HeadProbability < 0 || c.HeadProbability > 1 {
		return fmt.Errorf("head probability %v outside [0,1]", c.HeadProbability)
	}
	if c.DeathFloor >= c.EligibilityFloor {
		return errors.New("death floor must be strictly below eligibility floor")
	}
	if c.InitialEnergy <= c.EligibilityFloor {
		return errors.New("initial energy must exceed eligibility floor")
	}
	for _, interval := range []time.Duration{c.RoundInterval, c.FailureCheckInterval, c.ReportInterval, c.IntraInterval, c.InterInterval} {
		if interval <= 0 {
			return errors.New("all intervals must be positive")
		}
	}
	if c.InterReportSampling < 0 {
		return errors.New("inter-cluster report sampling must be non-negative")
	}
	return nil
}
