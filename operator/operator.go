// Package operator abstracts the two-line/16-column operator I/O port:
// a text display, a single confirm/cancel button edge source, and a
// rotary ±5 lb detent source. Pixel-level LCD rendering and
// rotary-encoder debouncing live below this package; it only models the
// data each side exchanges.
package operator

import "context"

// WeightIncrementLbs is the rotary detent step.
const WeightIncrementLbs = 5.0

// Display is the two-line, 16-column text output.
type Display interface {
	SetLines(ctx context.Context, line1, line2 string) error
}

// Input reports the confirm/cancel button level and any pending rotary
// detents since the last poll.
type Input interface {
	// ConfirmPressed reports the current (already-debounced) level of the
	// single confirm/cancel button.
	ConfirmPressed(ctx context.Context) (bool, error)
	// RotaryDelta reports signed detents accumulated since the last call,
	// each detent worth WeightIncrementLbs.
	RotaryDelta(ctx context.Context) (int, error)
}

// Port bundles the operator-facing display and input surfaces.
type Port struct {
	Display Display
	Input   Input
}

// New builds a Port.
func New(d Display, i Input) *Port {
	return &Port{Display: d, Input: i}
}
