// Package safety implements the non-blocking four-stage safety
// sequencer: AirCheck -> HoseCheck -> PositionCheck ->
// StartCheck, gated by a single confirm/cancel button edge source with
// release-edge debouncing, each stage bounded by a 30s timeout.
package safety

import (
	"fmt"
	"time"
)

// Phase is a safety-sequencer state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAirCheck
	PhaseHoseCheck
	PhasePositionCheck
	PhaseStartCheck
	PhaseComplete
	PhaseTimeout
	PhaseCancelled
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseAirCheck:
		return "AirCheck"
	case PhaseHoseCheck:
		return "HoseCheck"
	case PhasePositionCheck:
		return "PositionCheck"
	case PhaseStartCheck:
		return "StartCheck"
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

// StageTimeout is the per-stage confirmation deadline.
const StageTimeout = 30 * time.Second

// stageOrder is the sequence of confirmable stages; it excludes the
// terminal phases.
var stageOrder = []Phase{PhaseAirCheck, PhaseHoseCheck, PhasePositionCheck, PhaseStartCheck}

// Sequencer is the safety-sequencer state machine. It is driven by a
// single operator-task tick: Tick reports edges from the
// confirm button and the wall clock, and is never called concurrently.
type Sequencer struct {
	phase           Phase
	stageStart      time.Time
	awaitingRelease bool

	// onTransition, if set, is invoked synchronously from Tick/Cancel/Start
	// whenever the phase changes, so the operator task can publish a
	// per-stage pass/fail event.
	onTransition func(from, to Phase)
}

// New returns a Sequencer in PhaseIdle.
func New() *Sequencer {
	return &Sequencer{phase: PhaseIdle}
}

// OnTransition registers a callback invoked on every phase change.
func (s *Sequencer) OnTransition(fn func(from, to Phase)) {
	s.onTransition = fn
}

// Phase returns the current phase.
func (s *Sequencer) Phase() Phase {
	return s.phase
}

// Start begins the sequence at AirCheck, called on Idle->SafetyCheck
// transition of the top-level Fill Controller.
func (s *Sequencer) Start(now time.Time) {
	s.setPhase(PhaseAirCheck, now)
	s.awaitingRelease = false
}

// Cancel is callable at any time and yields Cancelled.
func (s *Sequencer) Cancel(now time.Time) {
	if s.phase == PhaseComplete || s.phase == PhaseTimeout || s.phase == PhaseCancelled {
		return
	}
	s.setPhase(PhaseCancelled, now)
}

// Tick advances the sequencer given the current confirm-button level
// (true = pressed) and the current time. A confirmation is accepted only
// on a press observed after a release (edge debouncing).
// It returns the current phase after the tick.
func (s *Sequencer) Tick(confirmPressed bool, now time.Time) Phase {
	switch s.phase {
	case PhaseIdle, PhaseComplete, PhaseTimeout, PhaseCancelled:
		return s.phase
	}

	if now.Sub(s.stageStart) > StageTimeout {
		s.setPhase(PhaseTimeout, now)
		return s.phase
	}

	if !confirmPressed {
		s.awaitingRelease = false
		return s.phase
	}

	if s.awaitingRelease {
		// Still within the same press that was already consumed, or a
		// press that has not yet been preceded by an observed release.
		return s.phase
	}
	s.awaitingRelease = true

	s.advance(now)
	return s.phase
}

func (s *Sequencer) advance(now time.Time) {
	idx := stageIndex(s.phase)
	if idx < 0 {
		return
	}
	if idx == len(stageOrder)-1 {
		s.setPhase(PhaseComplete, now)
		return
	}
	s.setPhase(stageOrder[idx+1], now)
}

func stageIndex(p Phase) int {
	for i, sp := range stageOrder {
		if sp == p {
			return i
		}
	}
	return -1
}

func (s *Sequencer) setPhase(to Phase, now time.Time) {
	from := s.phase
	s.phase = to
	s.stageStart = now
	if s.onTransition != nil && from != to {
		s.onTransition(from, to)
	}
}
