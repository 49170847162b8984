package actuator

import "context"

// FakeDAC records every write for test assertions.
type FakeDAC struct {
	Writes   []uint8
	WriteErr error
	Feedback bool
}

func (f *FakeDAC) WriteDAC(ctx context.Context, code uint8) error {
	if f.WriteErr != nil {
		return f.WriteErr
	}
	f.Writes = append(f.Writes, code)
	return nil
}

func (f *FakeDAC) ReadFeedback(ctx context.Context) (bool, error) {
	return f.Feedback, nil
}
