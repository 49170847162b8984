package fill

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.pumpworks.dev/fillcore/actuator"
	"go.pumpworks.dev/fillcore/autotune"
	"go.pumpworks.dev/fillcore/logging"
	"go.pumpworks.dev/fillcore/paramstore"
	"go.pumpworks.dev/fillcore/pid"
	"go.pumpworks.dev/fillcore/safety"
	"go.pumpworks.dev/fillcore/telemetry"
	"go.pumpworks.dev/fillcore/weight"
	"go.pumpworks.dev/fillcore/zone"
)

// Target weight bounds and default.
const (
	MinTargetLbs     = 10.0
	MaxTargetLbs     = 250.0
	DefaultTargetLbs = 200.0
)

// OverfillFactor is the overfill threshold multiplier on the target.
const OverfillFactor = 1.02

// FlowFilterAlpha is the low-pass coefficient on the derived flow.
const FlowFilterAlpha = 0.3

// ScaleUnavailableFatalTicks: 20 consecutive unavailable weight reads
// (2s at 100ms) during Filling becomes fatal.
const ScaleUnavailableFatalTicks = 20

// WeightStuckTicks/WeightStuckEpsilonLbs: the actuator commanding > 0
// while the weight fails to move by more than the epsilon for this many
// consecutive control ticks is flagged as a blockage.
const (
	WeightStuckTicks      = 50
	WeightStuckEpsilonLbs = 0.05
)

// Mode is the top-level fill-controller state. ModeAutotune is its own
// mode rather than an overload of Filling or Idle: while tuning, the
// control tick pumps the auto-tune engine instead of the hybrid control
// law, and the two must never race for the actuator.
type Mode int

const (
	ModeIdle Mode = iota
	ModeSafetyCheck
	ModeFilling
	ModeCompleted
	ModeError
	ModeCancelled
	ModeAutotune
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "Idle"
	case ModeSafetyCheck:
		return "SafetyCheck"
	case ModeFilling:
		return "Filling"
	case ModeCompleted:
		return "Completed"
	case ModeError:
		return "Error"
	case ModeCancelled:
		return "Cancelled"
	case ModeAutotune:
		return "Autotune"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Snapshot is a point-in-time, tear-free copy of the controller state
// for readers outside the control/operator tasks, e.g. the HTTP status
// handler and the telemetry task.
type Snapshot struct {
	Mode            Mode
	TargetLbs       float32
	CurrentLbs      float32
	StartLbs        float32
	ActiveZone      zone.Zone
	PressureCmdPct  float32
	ZoneTransitions int
	FillNumber      int
	FillsToday      int
	TotalLbsToday   float32
	FillElapsedMs   int64
	ScaleOnline     bool
	Error           ErrorKind
	PIDEnabled      bool
	MQTTConnected   bool
}

// Controller owns the fill state machine and wires together the weight
// source, pressure actuator, parameter store, safety sequencer,
// auto-tune engine, and event sink, driven by the four periodic tasks.
// A single mutex guards the state. Control/PID fields are written by
// ControlTick, the weight fields by WeightTick, and safety fields by
// OperatorTick; mode and target are also written by the command API
// (Start, Stop, SetTarget, the autotune calls). The mutex makes
// cross-task reads tear-free and the fill-completion commit atomic; it
// does not serialize otherwise-independent work.
type Controller struct {
	logger *logging.Logger

	weight *weight.Source
	act    *actuator.Actuator
	store  paramstore.Store
	sink   telemetry.Sink
	safety *safety.Sequencer
	tune   *autotune.Engine

	mu sync.Mutex

	pidEngine *pid.Engine
	gains     pid.Gains

	mode            Mode
	targetLbs       float32
	currentLbs      float32
	startLbs        float32
	activeZone      zone.Zone
	pressureCmdPct  float32
	zoneTransitions int
	fillNumber      int
	fillsToday      int
	totalLbsToday   float32
	fillStart       time.Time
	errKind         ErrorKind
	scaleOnline     bool
	pidEnabled      bool

	prevWeight            float32
	havePrevWeight        bool
	flowFilt              float32
	lastTickTime          time.Time
	scaleUnavailableTicks int
	stuckTicks            int
	lastStuckWeight       float32
	prevConfirm           bool
	lastStatusPublish     time.Time
	pendingAutotune       *autotune.Result
}

// New builds a Controller. store is consulted once, at construction, for
// the boot-time PidParams load: a NotFound does not fail construction,
// it installs paramstore.Defaults.
func New(
	logger *logging.Logger,
	w *weight.Source,
	act *actuator.Actuator,
	store paramstore.Store,
	sink telemetry.Sink,
	safetySeq *safety.Sequencer,
	tune *autotune.Engine,
) *Controller {
	params := paramstore.LoadOrDefaults(store)
	c := &Controller{
		logger:     logger,
		weight:     w,
		act:        act,
		store:      store,
		sink:       sink,
		safety:     safetySeq,
		tune:       tune,
		pidEngine:  pid.New(params.Gains),
		gains:      params.Gains,
		mode:       ModeIdle,
		targetLbs:  DefaultTargetLbs,
		activeZone: zone.Idle,
		pidEnabled: true,
	}
	safetySeq.OnTransition(func(from, to safety.Phase) {
		c.sink.PublishEvent(newEvent("safety_"+to.String(), "", time.Now()))
	})
	return c
}

// Snapshot returns a tear-free copy of the current FillState.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	var elapsedMs int64
	if c.mode == ModeFilling && !c.fillStart.IsZero() {
		elapsedMs = time.Since(c.fillStart).Milliseconds()
	}
	return Snapshot{
		Mode:            c.mode,
		TargetLbs:       c.targetLbs,
		CurrentLbs:      c.currentLbs,
		StartLbs:        c.startLbs,
		ActiveZone:      c.activeZone,
		PressureCmdPct:  c.pressureCmdPct,
		ZoneTransitions: c.zoneTransitions,
		FillNumber:      c.fillNumber,
		FillsToday:      c.fillsToday,
		TotalLbsToday:   c.totalLbsToday,
		FillElapsedMs:   elapsedMs,
		ScaleOnline:     c.scaleOnline,
		Error:           c.errKind,
		PIDEnabled:      c.pidEnabled,
		MQTTConnected:   c.sink.Connected(),
	}
}

// --- Command API (callable from the HTTP port or the CLI, any
// goroutine) ---

// Start transitions Idle -> SafetyCheck.
func (c *Controller) Start(now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeIdle {
		return fmt.Errorf("fill: start: not idle (mode=%s)", c.mode)
	}
	c.mode = ModeSafetyCheck
	c.safety.Start(now)
	return nil
}

// Stop transitions any non-Idle mode to Cancelled and drives the
// actuator to 0%.
func (c *Controller) Stop(ctx context.Context, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == ModeIdle {
		return errors.New("fill: stop: already idle")
	}
	if c.mode == ModeSafetyCheck {
		c.safety.Cancel(now)
	}
	if c.mode == ModeAutotune {
		c.tune.Cancel()
		c.pendingAutotune = nil
	}
	c.mode = ModeCancelled
	if err := c.act.SetPercent(ctx, 0); err != nil {
		return err
	}
	c.pressureCmdPct = c.act.CommandedPercent()
	return nil
}

// SetTarget accepts a new target only in Idle and only within
// [MinTargetLbs, MaxTargetLbs].
func (c *Controller) SetTarget(t float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeIdle {
		return errors.New("fill: set_target: only permitted in idle")
	}
	if t < MinTargetLbs || t > MaxTargetLbs {
		return fmt.Errorf("fill: target %v out of range [%v, %v]", t, MinTargetLbs, MaxTargetLbs)
	}
	c.targetLbs = t
	return nil
}

// SetPIDEnabled toggles pure zone mode vs. the hybrid blend; permitted
// only in Idle.
func (c *Controller) SetPIDEnabled(enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeIdle {
		return errors.New("fill: set_pid_enabled: only permitted in idle")
	}
	c.pidEnabled = enabled
	return nil
}

// Tare delegates to the weight source, permitted only in Idle.
func (c *Controller) Tare(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeIdle {
		return errors.New("fill: tare: only permitted in idle")
	}
	return c.weight.Tare(ctx)
}

// StartAutotune transitions Idle -> Autotune.
func (c *Controller) StartAutotune(now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeIdle {
		return errors.New("fill: start_autotune: not idle")
	}
	c.mode = ModeAutotune
	c.pendingAutotune = nil
	c.tune.Start(nowSec(now))
	return nil
}

// CancelAutotune cancels an in-progress auto-tune and returns to Idle
// with the actuator at 0%.
func (c *Controller) CancelAutotune(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeAutotune {
		return errors.New("fill: cancel_autotune: not active")
	}
	c.tune.Cancel()
	c.pendingAutotune = nil
	c.mode = ModeIdle
	if err := c.act.SetPercent(ctx, 0); err != nil {
		return err
	}
	c.pressureCmdPct = c.act.CommandedPercent()
	return nil
}

// AutotuneResult returns the last completed auto-tune's identified
// parameters, awaiting an explicit accept or reject.
func (c *Controller) AutotuneResult() (autotune.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pendingAutotune == nil {
		return autotune.Result{}, false
	}
	return *c.pendingAutotune, true
}

// AcceptAutotune commits the pending auto-tune result to the parameter
// store and adopts it as the live gains. The store is untouched until
// this explicit commit.
func (c *Controller) AcceptAutotune() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pendingAutotune == nil {
		return errors.New("fill: accept_autotune: no pending result")
	}
	gains := c.pendingAutotune.Gains
	if err := c.store.Save(paramstore.PidParams{Gains: gains, Tuned: true}); err != nil {
		return err
	}
	c.gains = gains
	c.pendingAutotune = nil
	c.mode = ModeIdle
	return nil
}

// RejectAutotune discards the pending result without touching the store.
func (c *Controller) RejectAutotune() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pendingAutotune == nil {
		return errors.New("fill: reject_autotune: no pending result")
	}
	c.pendingAutotune = nil
	c.mode = ModeIdle
	return nil
}

func nowSec(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func clampPct(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// --- Operator-facing helper ---

// operatorStatusLines renders the two-line display text for the current
// mode.
func (c *Controller) operatorStatusLines() (string, string) {
	switch c.mode {
	case ModeIdle:
		return fmt.Sprintf("Target %5.1f lb", c.targetLbs), "Press to start"
	case ModeSafetyCheck:
		return "Safety check", c.safety.Phase().String()
	case ModeFilling:
		return fmt.Sprintf("%s %5.1f/%5.1f", c.activeZone, c.currentLbs, c.targetLbs), fmt.Sprintf("Pressure %3.0f%%", c.pressureCmdPct)
	case ModeCompleted:
		return fmt.Sprintf("Done: %5.1f lb", c.currentLbs), "Press to reset"
	case ModeError:
		return "ERROR", c.errKind.String()
	case ModeCancelled:
		return "Cancelled", "Press to reset"
	case ModeAutotune:
		return "Autotuning...", c.tune.Phase().String()
	default:
		return c.mode.String(), ""
	}
}
