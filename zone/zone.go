// Package zone implements the fixed fill-progress schedule: a small
// ordered table mapping percent-of-target progress to a named zone, a
// base pressure setpoint, a PID correction range, and a gain multiplier,
// plus the target-flow lookup the hybrid controller blends against.
package zone

import "fmt"

// Zone identifies an active fill-progress band.
type Zone int

const (
	Idle Zone = iota
	Fast
	Moderate
	Slow
	Fine
)

func (z Zone) String() string {
	switch z {
	case Idle:
		return "Idle"
	case Fast:
		return "Fast"
	case Moderate:
		return "Moderate"
	case Slow:
		return "Slow"
	case Fine:
		return "Fine"
	default:
		return fmt.Sprintf("Zone(%d)", int(z))
	}
}

// Descriptor is one row of the immutable zone table.
type Descriptor struct {
	Zone          Zone
	UpperBoundPct float32 // upper bound of percent-of-target progress
	BaseSetpoint  float32 // base pressure setpoint, percent
	PIDRange      float32 // +/- PID correction range, percentage points
	GainMult      float32 // gain multiplier applied to PID coefficients
	TargetFlow    float32 // target fill flow, lbs/sec
}

// table is the field-tuned default schedule. Boundaries and setpoints
// are deliberate constants, not knobs.
var table = []Descriptor{
	{Zone: Fast, UpperBoundPct: 60.0, BaseSetpoint: 33, PIDRange: 8, GainMult: 1.5, TargetFlow: 3.0},
	{Zone: Moderate, UpperBoundPct: 85.0, BaseSetpoint: 66, PIDRange: 16, GainMult: 1.0, TargetFlow: 2.0},
	{Zone: Slow, UpperBoundPct: 97.5, BaseSetpoint: 100, PIDRange: 13, GainMult: 0.7, TargetFlow: 1.0},
	{Zone: Fine, UpperBoundPct: 100.0, BaseSetpoint: 83, PIDRange: 16, GainMult: 0.4, TargetFlow: 0.3},
}

// Table returns the zone schedule in ascending upper-bound order. Callers
// must not mutate the returned slice; it aliases the package-level table.
func Table() []Descriptor {
	return table
}

// Lookup selects the first table entry whose upper bound strictly exceeds
// progressPct, or reports complete when progressPct >= 100.
func Lookup(progressPct float32) (desc Descriptor, complete bool) {
	if progressPct >= 100.0 {
		return Descriptor{}, true
	}
	for _, d := range table {
		if progressPct < d.UpperBoundPct {
			return d, false
		}
	}
	return Descriptor{}, true
}

// ProgressPct computes 100 * current/target, the fill-progress percentage
// the zone table is indexed by.
func ProgressPct(current, target float32) float32 {
	if target <= 0 {
		return 0
	}
	return 100 * current / target
}
