// Package fill implements the fill controller: the top-level fill state
// machine, its hybrid zone/PID control law, and the wiring between the
// weight source, pressure actuator, parameter store, safety sequencer,
// auto-tune engine, and event sink that the periodic tasks drive.
package fill

import "fmt"

// ErrorKind classifies a fill-invalidating failure. A static enum, not a
// dynamic registry.
type ErrorKind int

const (
	ErrorNone ErrorKind = iota
	ErrorScaleUnavailable
	ErrorWeightStuck
	ErrorSafetyTimeout
	ErrorAutotuneTimeout
	ErrorOverfill
	ErrorPressureFault
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorNone:
		return "None"
	case ErrorScaleUnavailable:
		return "ScaleUnavailable"
	case ErrorWeightStuck:
		return "WeightStuck"
	case ErrorSafetyTimeout:
		return "SafetyTimeout"
	case ErrorAutotuneTimeout:
		return "AutotuneTimeout"
	case ErrorOverfill:
		return "Overfill"
	case ErrorPressureFault:
		return "PressureFault"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}
