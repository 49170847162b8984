package operator

import (
	"context"
	"testing"

	"go.viam.com/test"
)

func TestFakePortRoundTrip(t *testing.T) {
	fake := &FakePort{}
	port := fake.AsPort()
	ctx := context.Background()

	test.That(t, port.Display.SetLines(ctx, "Idle", "Target 200lb"), test.ShouldBeNil)
	test.That(t, fake.Line1, test.ShouldEqual, "Idle")
	test.That(t, fake.Line2, test.ShouldEqual, "Target 200lb")

	fake.Pressed = true
	pressed, err := port.Input.ConfirmPressed(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pressed, test.ShouldBeTrue)

	fake.PendingDelta = 2
	delta, err := port.Input.RotaryDelta(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, delta, test.ShouldEqual, 2)

	// RotaryDelta drains the pending count.
	delta, err = port.Input.RotaryDelta(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, delta, test.ShouldEqual, 0)
}
