package actuator

import (
	"context"
	"testing"

	"go.viam.com/test"
)

func TestSetPercentClampsAndWritesOnce(t *testing.T) {
	fake := &FakeDAC{}
	a := New(fake, fake)
	ctx := context.Background()

	test.That(t, a.SetPercent(ctx, -5), test.ShouldBeNil)
	test.That(t, a.CommandedPercent(), test.ShouldEqual, float32(0))

	test.That(t, a.SetPercent(ctx, 150), test.ShouldBeNil)
	test.That(t, a.CommandedPercent(), test.ShouldEqual, float32(100))
	test.That(t, fake.Writes, test.ShouldResemble, []uint8{0, 255})

	// Idempotence: same command twice produces one write.
	test.That(t, a.SetPercent(ctx, 150), test.ShouldBeNil)
	test.That(t, len(fake.Writes), test.ShouldEqual, 2)
}

func TestPercentToDACLinearMap(t *testing.T) {
	test.That(t, PercentToDAC(0), test.ShouldEqual, uint8(0))
	test.That(t, PercentToDAC(100), test.ShouldEqual, uint8(255))
	test.That(t, PercentToDAC(50), test.ShouldEqual, uint8(128))
}

func TestGetFeedbackPassthrough(t *testing.T) {
	fake := &FakeDAC{Feedback: true}
	a := New(fake, fake)
	ok, err := a.GetFeedback(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
}
