package fill

import (
	"context"
	"time"

	"github.com/google/uuid"

	"go.pumpworks.dev/fillcore/autotune"
	"go.pumpworks.dev/fillcore/operator"
	"go.pumpworks.dev/fillcore/pid"
	"go.pumpworks.dev/fillcore/safety"
	"go.pumpworks.dev/fillcore/telemetry"
	"go.pumpworks.dev/fillcore/zone"
)

// newEvent stamps a fresh event identifier so a downstream consumer can
// dedupe a redelivered publish.
func newEvent(kind, detail string, at time.Time) telemetry.Event {
	return telemetry.Event{ID: uuid.NewString(), Kind: kind, Detail: detail, AtUnix: at.Unix()}
}

// WeightTick is the weight task entrypoint (100ms): the current weight
// and online flag are the only fields it writes.
func (c *Controller) WeightTick(ctx context.Context) {
	sample := c.weight.Read(ctx)
	c.mu.Lock()
	c.currentLbs = sample.Lbs
	c.scaleOnline = sample.Online
	c.mu.Unlock()
}

// ControlTick is the control task entrypoint (100ms fixed rate): it
// runs the hybrid control law while Filling and pumps the auto-tune
// engine while Autotune is active.
func (c *Controller) ControlTick(ctx context.Context, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.mode {
	case ModeFilling:
		return c.tickFillingLocked(ctx, now)
	case ModeAutotune:
		return c.tickAutotuneLocked(ctx, now)
	default:
		return nil
	}
}

func (c *Controller) tickFillingLocked(ctx context.Context, now time.Time) error {
	w := c.currentLbs

	if c.scaleOnline {
		c.scaleUnavailableTicks = 0
	} else {
		c.scaleUnavailableTicks++
		if c.scaleUnavailableTicks >= ScaleUnavailableFatalTicks {
			return c.failLocked(ctx, ErrorScaleUnavailable)
		}
	}

	// Overfill takes priority over the zone schedule.
	if w > c.targetLbs*OverfillFactor {
		return c.failLocked(ctx, ErrorOverfill)
	}

	progress := zone.ProgressPct(w, c.targetLbs)
	desc, complete := zone.Lookup(progress)
	if complete {
		c.writeActuatorLocked(ctx, 0)
		c.completeFillLocked(now)
		return nil
	}

	if desc.Zone != c.activeZone {
		c.activeZone = desc.Zone
		c.zoneTransitions++
		c.pidEngine.Reset(now.UnixMicro())
		c.havePrevWeight = false
		c.flowFilt = 0
	}

	var cmd float32
	if !c.pidEnabled {
		cmd = clampPct(desc.BaseSetpoint)
	} else {
		var flow float32
		if c.havePrevWeight {
			dt := now.Sub(c.lastTickTime).Seconds()
			if dt > 0 {
				flow = (w - c.prevWeight) / float32(dt)
			}
		}
		c.flowFilt = FlowFilterAlpha*flow + (1-FlowFilterAlpha)*c.flowFilt

		zoneGains := pid.Gains{
			Kp: c.gains.Kp * desc.GainMult,
			Ki: c.gains.Ki * desc.GainMult,
			Kd: c.gains.Kd * desc.GainMult,
		}
		c.pidEngine.SetGains(zoneGains)
		intBound := desc.PIDRange / (zoneGains.Ki + 1e-3)
		c.pidEngine.SetIntegralClamp(-intBound, intBound)

		adj := c.pidEngine.Adjustment(desc.TargetFlow, c.flowFilt, now.UnixMicro(), desc.PIDRange)
		cmd = clampPct(desc.BaseSetpoint + adj)
	}

	c.writeActuatorLocked(ctx, cmd)
	c.checkWeightStuckLocked(ctx, w, cmd)

	c.prevWeight = w
	c.havePrevWeight = true
	c.lastTickTime = now
	return nil
}

func (c *Controller) tickAutotuneLocked(ctx context.Context, now time.Time) error {
	cmdPct, status, _ := c.tune.Tick(c.currentLbs, nowSec(now))
	c.writeActuatorLocked(ctx, cmdPct)

	switch status {
	case autotune.Ok:
		if c.pendingAutotune == nil {
			res := c.tune.Result()
			c.pendingAutotune = &res
			c.sink.PublishEvent(newEvent("autotune_complete", "", now))
		}
	case autotune.Failure:
		c.errKind = ErrorAutotuneTimeout
		c.mode = ModeError
		c.sink.PublishEvent(newEvent("autotune_failed", c.errKind.String(), now))
	}
	return nil
}

// checkWeightStuckLocked flags a blockage: cmd > 0 while the weight
// fails to move for WeightStuckTicks consecutive control ticks.
func (c *Controller) checkWeightStuckLocked(ctx context.Context, w, cmd float32) {
	if cmd <= 0 {
		c.stuckTicks = 0
		c.lastStuckWeight = w
		return
	}
	delta := w - c.lastStuckWeight
	if delta < 0 {
		delta = -delta
	}
	if delta > WeightStuckEpsilonLbs {
		c.stuckTicks = 0
		c.lastStuckWeight = w
		return
	}
	c.stuckTicks++
	if c.stuckTicks >= WeightStuckTicks {
		c.failLocked(ctx, ErrorWeightStuck)
	}
}

func (c *Controller) failLocked(ctx context.Context, kind ErrorKind) error {
	c.writeActuatorLocked(ctx, 0)
	c.errKind = kind
	c.mode = ModeError
	c.sink.PublishEvent(newEvent("error", kind.String(), time.Now()))
	c.logger.Warnw("fill controller entering Error", "kind", kind.String())
	return nil
}

func (c *Controller) completeFillLocked(now time.Time) {
	c.fillNumber++
	c.fillsToday++
	c.totalLbsToday += c.currentLbs

	elapsed := now.Sub(c.fillStart)
	rec := telemetry.FillRecord{
		ID:         uuid.NewString(),
		FillNumber: c.fillNumber,
		TargetLbs:  c.targetLbs,
		FinalLbs:   c.currentLbs,
		ElapsedMs:  elapsed.Milliseconds(),
		ZoneHops:   c.zoneTransitions,
	}
	if err := c.sink.PublishFill(rec); err != nil {
		c.logger.Warnw("publish fill record failed", "err", err)
	}
	c.mode = ModeCompleted
}

func (c *Controller) writeActuatorLocked(ctx context.Context, pct float32) {
	if err := c.act.SetPercent(ctx, pct); err != nil {
		c.logger.Warnw("actuator write failed", "err", err)
		return
	}
	c.pressureCmdPct = c.act.CommandedPercent()
}

// OperatorTick is the operator task entrypoint (200ms): it owns the
// safety sequencer tick, target adjustment via the rotary input while
// Idle, operator reset on confirm after a terminal mode, and the
// two-line display refresh.
func (c *Controller) OperatorTick(ctx context.Context, port *operator.Port, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delta, err := port.Input.RotaryDelta(ctx)
	if err == nil && delta != 0 && c.mode == ModeIdle {
		next := c.targetLbs + float32(delta)*operator.WeightIncrementLbs
		if next >= MinTargetLbs && next <= MaxTargetLbs {
			c.targetLbs = next
		}
	}

	pressed, err := port.Input.ConfirmPressed(ctx)
	if err != nil {
		pressed = false
	}

	switch c.mode {
	case ModeSafetyCheck:
		c.tickSafetyLocked(ctx, pressed, now)
	case ModeError, ModeCancelled, ModeCompleted:
		if pressed && !c.prevConfirm {
			c.resetToIdleLocked()
		}
	}
	c.prevConfirm = pressed

	l1, l2 := c.operatorStatusLines()
	return port.Display.SetLines(ctx, l1, l2)
}

func (c *Controller) tickSafetyLocked(ctx context.Context, pressed bool, now time.Time) {
	switch c.safety.Tick(pressed, now) {
	case safety.PhaseComplete:
		c.startLbs = c.currentLbs
		c.mode = ModeFilling
		c.fillStart = now
		c.activeZone = zone.Idle
		c.zoneTransitions = 0
		c.pidEngine.Reset(now.UnixMicro())
		c.havePrevWeight = false
		c.flowFilt = 0
		c.scaleUnavailableTicks = 0
		c.stuckTicks = 0
		c.lastTickTime = now
		c.sink.PublishEvent(newEvent("fill_start", "", now))
	case safety.PhaseTimeout:
		c.errKind = ErrorSafetyTimeout
		c.mode = ModeCancelled
		c.writeActuatorLocked(ctx, 0)
	case safety.PhaseCancelled:
		c.mode = ModeCancelled
		c.writeActuatorLocked(ctx, 0)
	}
}

func (c *Controller) resetToIdleLocked() {
	c.mode = ModeIdle
	c.errKind = ErrorNone
	c.activeZone = zone.Idle
	c.zoneTransitions = 0
}

// TelemetryTick is the telemetry task entrypoint (1s poll): it
// publishes status at 5s during Filling/Autotune or 30s otherwise.
func (c *Controller) TelemetryTick(now time.Time) error {
	c.mu.Lock()
	snap := c.snapshotLocked()
	interval := telemetry.StatusIntervalIdle
	if snap.Mode == ModeFilling || snap.Mode == ModeAutotune {
		interval = telemetry.StatusIntervalFilling
	}
	due := now.Sub(c.lastStatusPublish) >= interval
	if due {
		c.lastStatusPublish = now
	}
	c.mu.Unlock()

	if !due {
		return nil
	}

	return c.sink.PublishStatus(telemetry.StatusMessage{
		State:         snap.Mode.String(),
		Zone:          snap.ActiveZone.String(),
		CurrentWeight: snap.CurrentLbs,
		TargetWeight:  snap.TargetLbs,
		PressurePct:   snap.PressureCmdPct,
		ProgressPct:   zone.ProgressPct(snap.CurrentLbs, snap.TargetLbs),
		FillsToday:    snap.FillsToday,
		TotalLbsToday: snap.TotalLbsToday,
		ScaleOnline:   snap.ScaleOnline,
		MQTTConnected: snap.MQTTConnected,
	})
}
