package pid

import (
	"testing"

	"go.viam.com/test"
)

func TestFirstCallReturnsZeroAndAnchors(t *testing.T) {
	e := New(Gains{Kp: 1, Ki: 1, Kd: 1})
	out := e.Compute(10, 0, 1_000_000)
	test.That(t, out, test.ShouldEqual, float32(0))
}

func TestNoSpuriousDerivativeKickOnSetpointStep(t *testing.T) {
	// For any setpoint step at time T with measurement held
	// constant, the D term at T equals zero.
	e := New(Gains{Kp: 0, Ki: 0, Kd: 5})
	e.Compute(0, 50, 0)
	out := e.Compute(100, 50, 100_000) // setpoint steps, measurement constant
	test.That(t, out, test.ShouldEqual, float32(0))
}

func TestLongGapResetsWithoutKick(t *testing.T) {
	e := New(Gains{Kp: 1, Ki: 1, Kd: 1})
	e.Compute(10, 0, 0)
	out := e.Compute(10, 5, 100) // dt = 100us (0.0001s): an ordinary, in-range update
	_ = out
	// a gap beyond 1s must not inject a kick; last output is returned unchanged
	prior := e.Compute(10, 5, 2_000_000)
	out = e.Compute(10, 50, 2_000_000+2_000_000)
	test.That(t, out, test.ShouldEqual, prior)
}

func TestIntegralClampNeverExceedsBounds(t *testing.T) {
	e := New(Gains{Kp: 0, Ki: 10, Kd: 0})
	e.Compute(1000, 0, 0)
	nowUs := int64(0)
	for i := 0; i < 200; i++ {
		nowUs += 100_000
		e.Compute(1000, 0, nowUs)
		test.That(t, e.Integral(), test.ShouldBeLessThanOrEqualTo, float32(IntMax))
		test.That(t, e.Integral(), test.ShouldBeGreaterThanOrEqualTo, float32(IntMin))
	}
}

func TestOutputAlwaysClamped(t *testing.T) {
	e := New(Gains{Kp: 1000, Ki: 1000, Kd: 1000})
	e.Compute(1000, 0, 0)
	for i := 1; i <= 20; i++ {
		out := e.Compute(1000, float32(-i*100), int64(i)*100_000)
		test.That(t, out, test.ShouldBeLessThanOrEqualTo, float32(OutMax))
		test.That(t, out, test.ShouldBeGreaterThanOrEqualTo, float32(OutMin))
	}
}

func TestResetZeroesState(t *testing.T) {
	e := New(Gains{Kp: 1, Ki: 1, Kd: 1})
	e.Compute(10, 0, 0)
	e.Compute(10, 5, 500_000)
	test.That(t, e.Integral(), test.ShouldNotEqual, float32(0))
	e.Reset(1_000_000)
	test.That(t, e.Integral(), test.ShouldEqual, float32(0))
	out := e.Compute(10, 20, 1_100_000)
	test.That(t, out, test.ShouldEqual, float32(0)) // re-anchoring call after reset
}

func TestNarrowedIntegralClamp(t *testing.T) {
	e := New(Gains{Kp: 0, Ki: 10, Kd: 0})
	e.SetIntegralClamp(-2, 2)
	e.Compute(1000, 0, 0)
	nowUs := int64(0)
	for i := 0; i < 50; i++ {
		nowUs += 100_000
		e.Compute(1000, 0, nowUs)
	}
	test.That(t, e.Integral(), test.ShouldEqual, float32(2))
}
