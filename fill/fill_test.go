package fill

import (
	"context"
	"math"
	"testing"
	"time"

	"go.viam.com/test"

	"go.pumpworks.dev/fillcore/actuator"
	"go.pumpworks.dev/fillcore/autotune"
	"go.pumpworks.dev/fillcore/logging"
	"go.pumpworks.dev/fillcore/operator"
	"go.pumpworks.dev/fillcore/paramstore"
	"go.pumpworks.dev/fillcore/pid"
	"go.pumpworks.dev/fillcore/safety"
	"go.pumpworks.dev/fillcore/telemetry"
	"go.pumpworks.dev/fillcore/weight"
)

func newTestController(t *testing.T) (*Controller, *actuator.FakeDAC, *telemetry.NoopSink, *paramstore.MemStore) {
	dac := &actuator.FakeDAC{}
	act := actuator.New(dac, dac)
	store := &paramstore.MemStore{}
	sink := &telemetry.NoopSink{}
	w := weight.New(&weight.FakeLineSource{})
	c := New(logging.NewTestLogger(t), w, act, store, sink, safety.New(), autotune.New(autotune.DefaultConfig()))
	return c, dac, sink, store
}

// TestHappyFillZoneSequenceAndCompletion runs pure zone mode
// (PID disabled), target=100, weight traversing every zone.
// Expected commanded percent sequence: 33, 66, 100, 83, 0.
func TestHappyFillZoneSequenceAndCompletion(t *testing.T) {
	c, _, sink, _ := newTestController(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	test.That(t, c.SetTarget(100), test.ShouldBeNil)
	test.That(t, c.SetPIDEnabled(false), test.ShouldBeNil)

	c.mu.Lock()
	c.mode = ModeFilling
	c.fillStart = now
	c.mu.Unlock()

	weights := []float32{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 96, 98, 99, 100}
	var cmds []float32
	for i, w := range weights {
		c.mu.Lock()
		c.currentLbs = w
		c.scaleOnline = true
		c.mu.Unlock()

		tick := now.Add(time.Duration(i+1) * 100 * time.Millisecond)
		test.That(t, c.ControlTick(ctx, tick), test.ShouldBeNil)
		cmds = append(cmds, c.Snapshot().PressureCmdPct)
	}

	// Distinct commanded values, in the order they first change, per zone.
	var distinct []float32
	for _, v := range cmds {
		if len(distinct) == 0 || distinct[len(distinct)-1] != v {
			distinct = append(distinct, v)
		}
	}
	test.That(t, distinct, test.ShouldResemble, []float32{33, 66, 100, 83, 0})

	snap := c.Snapshot()
	test.That(t, snap.Mode, test.ShouldEqual, ModeCompleted)
	test.That(t, snap.FillsToday, test.ShouldEqual, 1)
	test.That(t, len(sink.Fills), test.ShouldEqual, 1)
	test.That(t, sink.Fills[0].FillNumber, test.ShouldEqual, 1)
}

// TestOverfillProtection: target=100, a weight jump to 105 must
// immediately command 0% and transition to Error.
func TestOverfillProtection(t *testing.T) {
	c, _, sink, _ := newTestController(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	test.That(t, c.SetTarget(100), test.ShouldBeNil)
	c.mu.Lock()
	c.mode = ModeFilling
	c.fillStart = now
	c.currentLbs = 0
	c.scaleOnline = true
	c.mu.Unlock()
	test.That(t, c.ControlTick(ctx, now.Add(100*time.Millisecond)), test.ShouldBeNil)

	c.mu.Lock()
	c.currentLbs = 105
	c.mu.Unlock()
	test.That(t, c.ControlTick(ctx, now.Add(200*time.Millisecond)), test.ShouldBeNil)

	snap := c.Snapshot()
	test.That(t, snap.Mode, test.ShouldEqual, ModeError)
	test.That(t, snap.Error, test.ShouldEqual, ErrorOverfill)
	test.That(t, snap.PressureCmdPct, test.ShouldEqual, float32(0))
	test.That(t, len(sink.Events), test.ShouldBeGreaterThanOrEqualTo, 1)
	test.That(t, sink.Events[len(sink.Events)-1].Detail, test.ShouldEqual, "Overfill")
}

// TestTargetClamp: target set requests outside
// [MinTargetLbs, MaxTargetLbs] are rejected and leave the target unchanged.
func TestTargetClamp(t *testing.T) {
	c, _, _, _ := newTestController(t)
	test.That(t, c.SetTarget(150), test.ShouldBeNil)

	err := c.SetTarget(300)
	test.That(t, err, test.ShouldNotBeNil)
	err = c.SetTarget(5)
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, c.Snapshot().TargetLbs, test.ShouldEqual, float32(150))
}

// TestSafetyStageTimeout: entering SafetyCheck with no confirm event for
// > 30s must leave the controller not Filling, with the actuator at 0%.
func TestSafetyStageTimeout(t *testing.T) {
	c, dac, _, _ := newTestController(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	test.That(t, c.Start(now), test.ShouldBeNil)
	port := (&operator.FakePort{}).AsPort()

	test.That(t, c.OperatorTick(ctx, port, now.Add(31*time.Second)), test.ShouldBeNil)

	snap := c.Snapshot()
	test.That(t, snap.Mode, test.ShouldNotEqual, ModeFilling)
	test.That(t, snap.Mode, test.ShouldEqual, ModeCancelled)
	test.That(t, snap.Error, test.ShouldEqual, ErrorSafetyTimeout)
	test.That(t, len(dac.Writes), test.ShouldBeGreaterThanOrEqualTo, 1)
	test.That(t, dac.Writes[len(dac.Writes)-1], test.ShouldEqual, uint8(0))
}

// TestSafetyCompletionEntersFilling exercises the full four-stage confirm
// sequence and the SafetyCheck -> Filling handoff (start_lbs capture).
func TestSafetyCompletionEntersFilling(t *testing.T) {
	c, _, sink, _ := newTestController(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	test.That(t, c.Start(now), test.ShouldBeNil)

	fake := &operator.FakePort{}
	port := fake.AsPort()

	c.mu.Lock()
	c.currentLbs = 0.5
	c.scaleOnline = true
	c.mu.Unlock()

	for i := 0; i < 4; i++ {
		tick := now.Add(time.Duration(i*2) * 200 * time.Millisecond)
		fake.Pressed = true
		test.That(t, c.OperatorTick(ctx, port, tick), test.ShouldBeNil)
		fake.Pressed = false
		test.That(t, c.OperatorTick(ctx, port, tick.Add(200*time.Millisecond)), test.ShouldBeNil)
	}

	snap := c.Snapshot()
	test.That(t, snap.Mode, test.ShouldEqual, ModeFilling)
	test.That(t, snap.StartLbs, test.ShouldEqual, float32(0.5))
	found := false
	for _, ev := range sink.Events {
		if ev.Kind == "fill_start" {
			found = true
		}
	}
	test.That(t, found, test.ShouldBeTrue)
}

// TestAutotuneTimeout: a constant weight with no oscillation for the
// full 121s global timeout yields Timeout/Failure and the actuator
// commanded to 0.
func TestAutotuneTimeout(t *testing.T) {
	dac := &actuator.FakeDAC{}
	act := actuator.New(dac, dac)
	store := &paramstore.MemStore{}
	sink := &telemetry.NoopSink{}
	w := weight.New(&weight.FakeLineSource{})
	cfg := autotune.DefaultConfig()
	cfg.GlobalTimeoutSec = 120
	c := New(logging.NewTestLogger(t), w, act, store, sink, safety.New(), autotune.New(cfg))

	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	test.That(t, c.StartAutotune(now), test.ShouldBeNil)

	c.mu.Lock()
	c.currentLbs = 0
	c.mu.Unlock()
	test.That(t, c.ControlTick(ctx, now), test.ShouldBeNil) // Init -> Settling

	test.That(t, c.ControlTick(ctx, now.Add(121*time.Second)), test.ShouldBeNil)

	snap := c.Snapshot()
	test.That(t, snap.Mode, test.ShouldEqual, ModeError)
	test.That(t, snap.Error, test.ShouldEqual, ErrorAutotuneTimeout)
	test.That(t, snap.PressureCmdPct, test.ShouldEqual, float32(0))
}

// TestAutotuneCompletionRequiresExplicitAccept exercises the relay engine
// through the Controller with an oscillating weight trajectory, and
// verifies the parameter store is untouched until AcceptAutotune is
// called.
func TestAutotuneCompletionRequiresExplicitAccept(t *testing.T) {
	dac := &actuator.FakeDAC{}
	act := actuator.New(dac, dac)
	store := &paramstore.MemStore{}
	sink := &telemetry.NoopSink{}
	w := weight.New(&weight.FakeLineSource{})
	cfg := autotune.DefaultConfig()
	cfg.Target = 1000 // decouple the "weight >= Target" early-exit from this test's oscillation band
	c := New(logging.NewTestLogger(t), w, act, store, sink, safety.New(), autotune.New(cfg))

	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	test.That(t, c.StartAutotune(now), test.ShouldBeNil)

	for i := 0; i < 150; i++ {
		tSec := float64(i) * 0.1
		amp := 30.0 + 0.05*float64(i) // slight growth avoids identical consecutive peak heights
		wgt := float32(50 + amp*math.Sin(2*math.Pi*tSec/1.9))
		c.mu.Lock()
		c.currentLbs = wgt
		c.mu.Unlock()
		tick := now.Add(time.Duration(i+1) * 100 * time.Millisecond)
		test.That(t, c.ControlTick(ctx, tick), test.ShouldBeNil)

		if _, ok := c.AutotuneResult(); ok {
			break
		}
	}

	res, ok := c.AutotuneResult()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, res.Gains.Kp, test.ShouldBeGreaterThan, float32(0))

	_, err := store.Load()
	test.That(t, err, test.ShouldEqual, paramstore.ErrNotFound)

	test.That(t, c.AcceptAutotune(), test.ShouldBeNil)
	test.That(t, c.Snapshot().Mode, test.ShouldEqual, ModeIdle)

	persisted, err := store.Load()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, persisted.Tuned, test.ShouldBeTrue)
	test.That(t, persisted.Gains.Kp, test.ShouldEqual, res.Gains.Kp)
}

// TestAutotuneRejectLeavesStoreUntouched confirms Reject discards the
// result without a Save call.
func TestAutotuneRejectLeavesStoreUntouched(t *testing.T) {
	c, _, _, store := newTestController(t)
	now := time.Unix(1700000000, 0)
	test.That(t, c.StartAutotune(now), test.ShouldBeNil)

	c.mu.Lock()
	c.pendingAutotune = &autotune.Result{Gains: pid.Gains{Kp: 1, Ki: 1, Kd: 1}}
	c.mu.Unlock()

	test.That(t, c.RejectAutotune(), test.ShouldBeNil)
	test.That(t, c.Snapshot().Mode, test.ShouldEqual, ModeIdle)

	_, err := store.Load()
	test.That(t, err, test.ShouldEqual, paramstore.ErrNotFound)
}

// TestScaleUnavailableFatalAfterNTicks: 20 consecutive unavailable
// weight reads during Filling become fatal.
func TestScaleUnavailableFatalAfterNTicks(t *testing.T) {
	c, _, _, _ := newTestController(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	test.That(t, c.SetTarget(100), test.ShouldBeNil)
	c.mu.Lock()
	c.mode = ModeFilling
	c.fillStart = now
	c.currentLbs = 10
	c.scaleOnline = false
	c.mu.Unlock()

	var snap Snapshot
	for i := 0; i < ScaleUnavailableFatalTicks; i++ {
		tick := now.Add(time.Duration(i+1) * 100 * time.Millisecond)
		test.That(t, c.ControlTick(ctx, tick), test.ShouldBeNil)
		snap = c.Snapshot()
	}

	test.That(t, snap.Mode, test.ShouldEqual, ModeError)
	test.That(t, snap.Error, test.ShouldEqual, ErrorScaleUnavailable)
}

// TestWeightStuckDetection: the actuator commanding > 0 while the
// weight fails to move for WeightStuckTicks consecutive control ticks
// flags a blockage.
func TestWeightStuckDetection(t *testing.T) {
	c, _, _, _ := newTestController(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	test.That(t, c.SetTarget(100), test.ShouldBeNil)
	c.mu.Lock()
	c.mode = ModeFilling
	c.fillStart = now
	c.currentLbs = 10
	c.scaleOnline = true
	c.mu.Unlock()

	var snap Snapshot
	for i := 0; i < WeightStuckTicks+2; i++ {
		tick := now.Add(time.Duration(i+1) * 100 * time.Millisecond)
		test.That(t, c.ControlTick(ctx, tick), test.ShouldBeNil)
		snap = c.Snapshot()
	}

	test.That(t, snap.Mode, test.ShouldEqual, ModeError)
	test.That(t, snap.Error, test.ShouldEqual, ErrorWeightStuck)
}
