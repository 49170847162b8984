package operator

import "context"

// FakePort is an in-memory Display+Input fake for tests driving the
// safety-sequencer and target-adjustment paths.
type FakePort struct {
	Line1, Line2 string
	Pressed      bool
	PendingDelta int
}

func (f *FakePort) SetLines(ctx context.Context, line1, line2 string) error {
	f.Line1, f.Line2 = line1, line2
	return nil
}

func (f *FakePort) ConfirmPressed(ctx context.Context) (bool, error) {
	return f.Pressed, nil
}

func (f *FakePort) RotaryDelta(ctx context.Context) (int, error) {
	d := f.PendingDelta
	f.PendingDelta = 0
	return d, nil
}

// AsPort wraps the fake as a Port using itself for both roles.
func (f *FakePort) AsPort() *Port {
	return New(f, f)
}
