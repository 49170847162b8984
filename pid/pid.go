// Package pid implements the variable-rate PID engine used by the hybrid
// zone/PID fill controller; the auto-tune engine's Ziegler-Nichols
// derivation produces the Gains it runs with. It is deliberately standalone: callers own an Engine per control loop
// and Reset it at zone transitions.
package pid

import "math"

// Output and integrator clamp bounds.
const (
	OutMin = 0.0
	OutMax = 100.0
	IntMin = -50.0
	IntMax = 50.0
)

// Gains are the three PID coefficients. Values are non-negative by
// construction of the parameter store; Engine does not itself reject
// negative gains.
type Gains struct {
	Kp, Ki, Kd float32
}

// Engine is a derivative-on-measurement PID controller with integral
// clamping (anti-windup by saturation). All math is float32, the same
// width as the Gains the auto-tune engine derives.
type Engine struct {
	gains Gains

	integral        float32
	prevMeasurement float32
	lastTimeUs      int64
	lastOutput      float32
	initialized     bool

	// intMin/intMax optionally narrow the integrator clamp beyond
	// [IntMin, IntMax], used by the hybrid controller to bound the
	// integrator to what a zone's PID range can actually unwind.
	intMin, intMax float32
}

// New builds an Engine with the default integrator clamp.
func New(gains Gains) *Engine {
	e := &Engine{gains: gains}
	e.intMin, e.intMax = IntMin, IntMax
	return e
}

// SetGains updates the proportional/integral/derivative coefficients
// in place, without touching accumulated state.
func (e *Engine) SetGains(gains Gains) {
	e.gains = gains
}

// Gains returns the engine's current coefficients.
func (e *Engine) Gains() Gains {
	return e.gains
}

// SetIntegralClamp narrows the integrator accumulator's clamp range to
// [min, max]; both bounds are further clamped to [IntMin, IntMax].
func (e *Engine) SetIntegralClamp(min, max float32) {
	if min < IntMin {
		min = IntMin
	}
	if max > IntMax {
		max = IntMax
	}
	e.intMin, e.intMax = min, max
}

// Compute advances the engine by one sample, given the monotonic
// microsecond timestamp of this call, clamping the result to
// [OutMin, OutMax] as a standalone PID loop would.
func (e *Engine) Compute(setpoint, measurement float32, nowUs int64) float32 {
	out, ok := e.step(setpoint, measurement, nowUs)
	if !ok {
		return e.lastOutput
	}
	out = clamp(out, OutMin, OutMax)
	e.lastOutput = out
	return out
}

// Adjustment advances the engine exactly like Compute but clamps the
// result to [-pidRange, +pidRange] instead of [OutMin, OutMax]. This is
// what the hybrid zone/PID controller uses: the engine here is
// producing a zero-centered correction to add to a zone's
// base setpoint, not an absolute actuator percentage, so it must not be
// clamped to [0,100] before the blend.
func (e *Engine) Adjustment(setpoint, measurement float32, nowUs int64, pidRange float32) float32 {
	out, ok := e.step(setpoint, measurement, nowUs)
	if !ok {
		return clamp(e.lastOutput, -pidRange, pidRange)
	}
	out = clamp(out, -pidRange, pidRange)
	e.lastOutput = out
	return out
}

// step runs the shared dt-gated PID math, returning ok=false (and leaving
// lastOutput untouched) on the first call, a non-positive dt, or a gap
// exceeding 1s.
func (e *Engine) step(setpoint, measurement float32, nowUs int64) (float32, bool) {
	if !e.initialized {
		e.prevMeasurement = measurement
		e.lastTimeUs = nowUs
		e.initialized = true
		return 0, false
	}

	dtUs := nowUs - e.lastTimeUs
	dt := float32(dtUs) / 1e6

	// First call, long gap, or clock wrap: reset the derivative anchor
	// and report no update rather than inject a spurious derivative kick.
	if dt <= 0 || dt > 1.0 {
		e.prevMeasurement = measurement
		e.lastTimeUs = nowUs
		return 0, false
	}

	errVal := setpoint - measurement

	// Integral term: accumulate then clamp the accumulator itself (true
	// anti-windup by saturation), not the resulting product.
	e.integral += errVal * dt
	if e.integral > e.intMax {
		e.integral = e.intMax
	} else if e.integral < e.intMin {
		e.integral = e.intMin
	}

	// Derivative on measurement, not on error: eliminates derivative
	// kick when the setpoint steps while the measurement holds still.
	d := -(e.gains.Kd * (measurement - e.prevMeasurement) / dt)

	output := e.gains.Kp*errVal + e.gains.Ki*e.integral + d

	e.prevMeasurement = measurement
	e.lastTimeUs = nowUs
	return output, true
}

// Reset zeroes the integral and previous-measurement state and latches
// the timestamp so the next Compute call does not see a stale dt.
func (e *Engine) Reset(nowUs int64) {
	e.integral = 0
	e.prevMeasurement = 0
	e.lastOutput = 0
	e.lastTimeUs = nowUs
	e.initialized = false
}

// Integral exposes the current accumulator value, for tests verifying the
// anti-windup clamp.
func (e *Engine) Integral() float32 {
	return e.integral
}

func clamp(v, lo, hi float32) float32 {
	return float32(math.Min(float64(hi), math.Max(float64(lo), float64(v))))
}
