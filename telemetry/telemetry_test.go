package telemetry

import (
	"testing"

	"go.viam.com/test"
)

func TestNoopSinkRecordsFillAtCompletion(t *testing.T) {
	// One record per completion; QoS is the MQTTSink's concern.
	sink := &NoopSink{}
	err := sink.PublishFill(FillRecord{FillNumber: 1, TargetLbs: 100, FinalLbs: 100.2})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(sink.Fills), test.ShouldEqual, 1)
	test.That(t, sink.Fills[0].FillNumber, test.ShouldEqual, 1)
}

func TestDefaultTopics(t *testing.T) {
	topics := DefaultTopics()
	test.That(t, topics.Status, test.ShouldEqual, "factory/pump/status")
	test.That(t, topics.Fills, test.ShouldEqual, "factory/pump/fills")
	test.That(t, topics.Events, test.ShouldEqual, "factory/pump/events")
}
