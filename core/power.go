package core

// Role distinguishes who is transmitting, since heads pay a higher energy
// cost factor: they relay aggregated traffic on to the sink.
type Role int

const (
	RoleMember Role = iota
	RoleHead
)

// CostFactor returns the per-role multiplier applied to the transmit power
// level when computing an energy charge.
func (r Role) CostFactor() float64 {
	if r == RoleHead {
		return 0.2
	}
	return 0.1
}

func (r Role) String() string {
	if r == RoleHead {
		return "head"
	}
	return "member"
}

// PowerProfile is a distance/priority-tiered transmit power configuration.
// The zero value is not usable; construct via DistanceTieredProfile,
// PriorityAwareProfile, or populate every field explicitly.
type PowerProfile struct {
	BasePower float64

	ShortRangeMultiplier float64
	MidRangeMultiplier   float64
	LongRangeMultiplier  float64

	// PriorityMultiplier applies to high-priority traffic regardless of
	// distance. Zero disables the priority tier entirely.
	PriorityMultiplier float64

	// Tier boundaries in metres. Distances at or below ShortRangeMax use
	// the short-range multiplier; at or below MidRangeMax the mid-range
	// one; anything beyond is long-range.
	ShortRangeMax float64
	MidRangeMax   float64
}

// DistanceTieredProfile is the distance-only configuration: cheap power up
// close, 1.5x base beyond the long-range boundary, no priority handling.
func DistanceTieredProfile() PowerProfile {
	return PowerProfile{
		BasePower:            1.0,
		ShortRangeMultiplier: 0.8,
		MidRangeMultiplier:   1.2,
		LongRangeMultiplier:  1.5,
		ShortRangeMax:        20.0,
		MidRangeMax:          50.0,
	}
}

// PriorityAwareProfile trades the long-range tier down to 1.2x and reserves
// 1.5x for high-priority traffic, which overrides distance entirely.
func PriorityAwareProfile() PowerProfile {
	return PowerProfile{
		BasePower:            1.0,
		ShortRangeMultiplier: 0.8,
		MidRangeMultiplier:   1.2,
		LongRangeMultiplier:  1.2,
		PriorityMultiplier:   1.5,
		ShortRangeMax:        20.0,
		MidRangeMax:          50.0,
	}
}

// TxPower returns the transmit power level for a single send. It is pure:
// all energy mutation happens in the caller via the energy store.
func (p PowerProfile) TxPower(distance float64, highPriority bool) float64 {
	if highPriority && p.PriorityMultiplier > 0 {
		return p.BasePower * p.PriorityMultiplier
	}
	switch {
	case distance > p.MidRangeMax:
		return p.BasePower * p.LongRangeMultiplier
	case distance > p.ShortRangeMax:
		return p.BasePower * p.MidRangeMultiplier
	default:
		return p.BasePower * p.ShortRangeMultiplier
	}
}

// EnergyCharge combines the power level with the transmitting role's cost
// factor into the joule amount to drain for one send.
func (p PowerProfile) EnergyCharge(distance float64, highPriority bool, role Role) float64 {
	return role.CostFactor() * p.TxPower(distance, highPriority)
}
