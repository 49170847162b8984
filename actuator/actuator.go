// Package actuator drives the proportional pressure regulator: a percent
// command, open loop, mapped onto an 8-bit DAC write. GPIO/DAC register
// primitives live below this package; DACWriter abstracts the single
// 0-255 write.
package actuator

import "context"

// DACMax is the 8-bit DAC's maximum code.
const DACMax = 255

// DACWriter is the single primitive this package needs from the hardware
// layer: write one 8-bit code to the DAC.
type DACWriter interface {
	WriteDAC(ctx context.Context, code uint8) error
}

// FeedbackReader reads the regulator's "pressure-reached" discrete line.
// Purely observational: the control loop closes on weight, never on this
// line.
type FeedbackReader interface {
	ReadFeedback(ctx context.Context) (bool, error)
}

// Actuator drives a proportional pressure regulator. No rate limiting is
// performed internally; slew policy is the caller's responsibility.
type Actuator struct {
	dac      DACWriter
	feedback FeedbackReader

	cmdPct      float32
	lastWritten bool
	lastCode    uint8
}

// New builds an Actuator over the given DAC and feedback line.
func New(dac DACWriter, feedback FeedbackReader) *Actuator {
	return &Actuator{dac: dac, feedback: feedback}
}

// SetPercent clamps p to [0, 100], writes the corresponding DAC code, and
// updates the commanded percent. Two consecutive calls with the same p
// write the DAC only once: the second call observes no additional DAC
// write.
func (a *Actuator) SetPercent(ctx context.Context, p float32) error {
	if p < 0 {
		p = 0
	} else if p > 100 {
		p = 100
	}

	code := PercentToDAC(p)
	if a.lastWritten && code == a.lastCode {
		a.cmdPct = p
		return nil
	}

	if err := a.dac.WriteDAC(ctx, code); err != nil {
		return err
	}
	a.cmdPct = p
	a.lastCode = code
	a.lastWritten = true
	return nil
}

// CommandedPercent returns the last value passed to SetPercent (after
// clamping).
func (a *Actuator) CommandedPercent() float32 {
	return a.cmdPct
}

// GetFeedback reads the regulator's pressure-reached line.
func (a *Actuator) GetFeedback(ctx context.Context) (bool, error) {
	return a.feedback.ReadFeedback(ctx)
}

// PercentToDAC maps [0,100] percent onto the 8-bit DAC range [0,255].
func PercentToDAC(p float32) uint8 {
	if p <= 0 {
		return 0
	}
	if p >= 100 {
		return DACMax
	}
	return uint8(p/100.0*DACMax + 0.5)
}
