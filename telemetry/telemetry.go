// Package telemetry publishes status, fill-completion, and operator
// events. The sink is a small interface so the controller never touches
// the transport; the production backing is
// github.com/eclipse/paho.mqtt.golang.
package telemetry

import (
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Status publish intervals: faster while a fill or tune is running.
const (
	StatusIntervalFilling = 5 * time.Second
	StatusIntervalIdle    = 30 * time.Second
)

// StatusMessage is published to the "…/status" topic.
type StatusMessage struct {
	State          string  `json:"state"`
	Zone           string  `json:"zone"`
	CurrentWeight  float32 `json:"current_weight"`
	TargetWeight   float32 `json:"target_weight"`
	PressurePct    float32 `json:"pressure_pct"`
	ProgressPct    float32 `json:"progress_pct"`
	FillsToday     int     `json:"fills_today"`
	TotalLbsToday  float32 `json:"total_lbs_today"`
	ScaleOnline    bool    `json:"scale_online"`
	MQTTConnected  bool    `json:"mqtt_connected"`
	FirmwareVer    string  `json:"firmware_version,omitempty"`
}

// FillRecord is published to the "…/fills" topic on each completion.
// ID uniquely identifies the record, letting a downstream consumer dedupe
// a redelivered QoS 1 publish rather than double-counting a fill.
type FillRecord struct {
	ID         string  `json:"id"`
	FillNumber int     `json:"fill_number"`
	TargetLbs  float32 `json:"target_lbs"`
	FinalLbs   float32 `json:"final_lbs"`
	ElapsedMs  int64   `json:"elapsed_ms"`
	ZoneHops   int     `json:"zone_transitions"`
}

// Event is published to the "…/events" topic: safety pass/fail, fill
// start, errors.
type Event struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
	AtUnix int64  `json:"at_unix"`
}

// Sink is the abstract event sink the Fill Controller and Operator task
// publish through.
type Sink interface {
	PublishStatus(msg StatusMessage) error
	PublishFill(rec FillRecord) error
	PublishEvent(ev Event) error
	Connected() bool
}

// Topics names the three MQTT topics.
type Topics struct {
	Status string
	Fills  string
	Events string
}

// DefaultTopics is the topic layout the factory broker expects.
func DefaultTopics() Topics {
	return Topics{
		Status: "factory/pump/status",
		Fills:  "factory/pump/fills",
		Events: "factory/pump/events",
	}
}

// MQTTSink publishes over an eclipse/paho MQTT client.
type MQTTSink struct {
	client mqtt.Client
	topics Topics
}

// NewMQTTSink builds a sink backed by an already-configured mqtt.Client
// (connection lifecycle, broker URI, and device/client ID are the
// caller's concern — see cmd/fillcore for wiring).
func NewMQTTSink(client mqtt.Client, topics Topics) *MQTTSink {
	return &MQTTSink{client: client, topics: topics}
}

func (s *MQTTSink) Connected() bool {
	return s.client.IsConnected()
}

// PublishStatus publishes at QoS 0 with no retain.
func (s *MQTTSink) PublishStatus(msg StatusMessage) error {
	return s.publish(s.topics.Status, 0, false, msg)
}

// PublishFill publishes at QoS 1, one record per fill completion.
func (s *MQTTSink) PublishFill(rec FillRecord) error {
	return s.publish(s.topics.Fills, 1, false, rec)
}

// PublishEvent publishes an operator event.
func (s *MQTTSink) PublishEvent(ev Event) error {
	return s.publish(s.topics.Events, 0, false, ev)
}

func (s *MQTTSink) publish(topic string, qos byte, retain bool, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	tok := s.client.Publish(topic, qos, retain, body)
	tok.Wait()
	return tok.Error()
}
