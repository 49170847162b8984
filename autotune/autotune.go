// Package autotune implements the relay-method Ziegler-Nichols PID
// auto-tune engine: it drives the pressure actuator in a
// bang-bang pattern around a weight setpoint, records the resulting
// weight peaks, derives the ultimate gain and period of the induced
// limit cycle, and computes classic Z-N PID gains from them.
package autotune

import (
	"fmt"

	"go.pumpworks.dev/fillcore/pid"
)

// Phase is an auto-tune engine state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseInit
	PhaseSettling
	PhaseRelayTest
	PhaseCalculating
	PhaseComplete
	PhaseTimeout
	PhaseCancelled
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseInit:
		return "Init"
	case PhaseSettling:
		return "Settling"
	case PhaseRelayTest:
		return "RelayTest"
	case PhaseCalculating:
		return "Calculating"
	case PhaseComplete:
		return "Complete"
	case PhaseTimeout:
		return "Timeout"
	case PhaseCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Status is the tri-valued tick result.
type Status int

const (
	InProgress Status = iota
	Ok
	Failure
)

// Config are the tunable constants of the relay test.
type Config struct {
	Target           float32 // abort-above weight, lbs; default 50
	Setpoint         float32 // weight the relay toggles around; default 50
	CenterPct        float32 // center actuator command, percent
	StepPct          float32 // relay step size, percentage points; default 20
	MinOscillations  int     // minimum completed oscillations; default 3
	MaxPeaks         int     // cap on recorded peaks; default 10
	SettleWeightLbs  float32 // weight threshold that ends Settling; default 5
	GlobalTimeoutSec float64 // global timeout from autotune start; default 120
}

// DefaultConfig returns the relay-test constants tuned on the reference rig.
func DefaultConfig() Config {
	return Config{
		Target:           50.0,
		Setpoint:         50.0,
		CenterPct:        50.0,
		StepPct:          20.0,
		MinOscillations:  3,
		MaxPeaks:         10,
		SettleWeightLbs:  5.0,
		GlobalTimeoutSec: 120.0,
	}
}

// Result holds the identified process parameters and derived gains,
// exposed for operator acceptance: the operator must explicitly commit
// before the parameter store is written.
type Result struct {
	UltimateGain   float32
	UltimatePeriod float32
	Gains          pid.Gains
}

type relayState int

const (
	relayLow relayState = iota
	relayHigh
)

type peak struct {
	timeSec float32
	value   float32
}

// Engine runs the relay/Ziegler-Nichols identification. A single Engine
// is owned exclusively by the control task's tick; it is not safe for
// concurrent use.
type Engine struct {
	cfg Config

	phase      Phase
	relay      relayState
	startSec   float64
	peaks      []peak
	lastWeight float32
	result     Result

	// sample window for the three-sample local-max peak test.
	w0, w1, w2  float32
	samplesSeen int
}

// New constructs an Engine in PhaseIdle with the given configuration.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg, phase: PhaseIdle}
}

// Phase returns the current phase.
func (e *Engine) Phase() Phase {
	return e.phase
}

// Result returns the last computed result; valid only after Phase() ==
// PhaseComplete.
func (e *Engine) Result() Result {
	return e.result
}

// Start resets the engine and transitions Idle -> Init.
func (e *Engine) Start(nowSec float64) {
	*e = Engine{cfg: e.cfg}
	e.phase = PhaseInit
	e.startSec = nowSec
}

// Cancel is callable at any time and yields Cancelled with a 0% command.
func (e *Engine) Cancel() {
	if e.phase == PhaseComplete || e.phase == PhaseTimeout || e.phase == PhaseCancelled {
		return
	}
	e.phase = PhaseCancelled
}

// Tick advances the engine by one Control-task sample. weight is the
// current filtered weight (lbs); nowSec is seconds since an arbitrary
// epoch shared with Start's nowSec. It returns the actuator command to
// write this tick, the engine status, and the phase after the tick.
func (e *Engine) Tick(weight float32, nowSec float64) (cmdPct float32, status Status, phase Phase) {
	if e.phase != PhaseIdle && e.phase != PhaseComplete && e.phase != PhaseCancelled &&
		nowSec-e.startSec > e.cfg.GlobalTimeoutSec {
		e.phase = PhaseTimeout
		return 0, Failure, e.phase
	}

	switch e.phase {
	case PhaseIdle, PhaseComplete, PhaseCancelled:
		return 0, terminalStatus(e.phase), e.phase

	case PhaseTimeout:
		return 0, Failure, e.phase

	case PhaseInit:
		e.relay = relayHigh
		e.phase = PhaseSettling
		return e.relayCmd(), InProgress, e.phase

	case PhaseSettling:
		if weight > e.cfg.SettleWeightLbs {
			e.phase = PhaseRelayTest
		}
		return e.relayCmd(), InProgress, e.phase

	case PhaseRelayTest:
		e.recordPeak(weight, nowSec-e.startSec)
		e.applyRelayLogic(weight)

		if len(e.peaks) >= e.cfg.MinOscillations+1 || weight >= e.cfg.Target {
			e.phase = PhaseCalculating
			return e.relayCmd(), InProgress, e.phase
		}
		return e.relayCmd(), InProgress, e.phase

	case PhaseCalculating:
		if ok := e.calculate(); !ok {
			e.phase = PhaseTimeout
			return 0, Failure, e.phase
		}
		e.phase = PhaseComplete
		return 0, Ok, e.phase

	default:
		return 0, Failure, e.phase
	}
}

func terminalStatus(p Phase) Status {
	if p == PhaseComplete {
		return Ok
	}
	return Failure
}

func (e *Engine) relayCmd() float32 {
	if e.relay == relayHigh {
		return e.cfg.CenterPct + e.cfg.StepPct
	}
	return e.cfg.CenterPct - e.cfg.StepPct
}

// applyRelayLogic switches the relay when the weight crosses the setpoint
// against the current relay direction.
func (e *Engine) applyRelayLogic(weight float32) {
	if weight < e.cfg.Setpoint && e.relay == relayLow {
		e.relay = relayHigh
	} else if weight > e.cfg.Setpoint && e.relay == relayHigh {
		e.relay = relayLow
	}
}

// recordPeak runs the three-sample local-max test on the weight stream,
// storing up to MaxPeaks (seconds, value) pairs.
func (e *Engine) recordPeak(weight float32, tSec float64) {
	e.w0, e.w1, e.w2 = e.w1, e.w2, weight
	e.samplesSeen++
	e.lastWeight = weight
	if e.samplesSeen < 3 {
		return
	}
	if len(e.peaks) >= e.cfg.MaxPeaks {
		return
	}
	// The middle sample of the window is the candidate. It is recorded
	// with the newest sample's timestamp, one tick after its own; Pu uses
	// only differences of peak times, so that constant offset cancels.
	if e.w1 >= e.w0 && e.w1 >= e.w2 {
		e.peaks = append(e.peaks, peak{timeSec: float32(tSec), value: e.w1})
	}
}

// calculate derives Pu from the mean of consecutive peak-time
// differences, A from the maximum consecutive amplitude, Ku from the
// describing-function relay approximation, and classic Z-N PID gains
// from Ku/Pu.
func (e *Engine) calculate() bool {
	if len(e.peaks) < e.cfg.MinOscillations+1 {
		return false
	}

	var sumDt float32
	n := 0
	var maxAmp float32
	for i := 1; i < len(e.peaks); i++ {
		dt := e.peaks[i].timeSec - e.peaks[i-1].timeSec
		sumDt += dt
		n++
		amp := e.peaks[i].value - e.peaks[i-1].value
		if amp < 0 {
			amp = -amp
		}
		if amp > maxAmp {
			maxAmp = amp
		}
	}
	if n == 0 || maxAmp == 0 {
		return false
	}

	pu := sumDt / float32(n)
	a := maxAmp
	ku := float32(4.0) * e.cfg.StepPct / (pi32 * a)

	e.result = Result{
		UltimateGain:   ku,
		UltimatePeriod: pu,
		Gains: pid.Gains{
			Kp: 0.6 * ku,
			Ki: 1.2 * ku / pu,
			Kd: 0.075 * ku * pu,
		},
	}
	return true
}

const pi32 float32 = 3.14159265
