// Package config loads the firmware core's JSON configuration: the
// serial/DAC/bbolt/HTTP/MQTT wiring the fill package's collaborators
// need, plus tunable defaults older builds hardcoded at compile time.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-viper/mapstructure/v2"
)

// Defaults for a single-station deployment.
const (
	DefaultFirmwareVersion = "1.0.0"

	DefaultScalePort     = "/dev/ttyUSB0"
	DefaultScaleBaudRate = 9600

	DefaultHTTPAddr = ":8080"

	DefaultMQTTBrokerURI   = "mqtt://127.0.0.1:1883"
	DefaultMQTTDeviceID    = "bdo_pump_01"
	DefaultMQTTTopicFills  = "factory/pump/fills"
	DefaultMQTTTopicEvents = "factory/pump/events"
	DefaultMQTTTopicStatus = "factory/pump/status"

	DefaultParamStorePath = "fillcore.db"
)

// Cloud carries remote fleet-registration attributes. Most
// single-station deployments of this firmware core never set it; it
// exists so a JSON config can still opt in to a fleet without this
// module depending on anything cloud-shaped itself.
type Cloud struct {
	ID     string `json:"id"`
	Secret string `json:"secret"`
}

// Config is the root JSON document read by Read. Every field has a
// sensible zero-value default (applied by ApplyDefaults), so a
// mostly-empty file is a valid config.
type Config struct {
	DeviceID string `json:"device_id"`
	Version  string `json:"version"`

	ScalePort     string `json:"scale_port"`
	ScaleBaudRate int    `json:"scale_baud_rate"`

	HTTPAddr string `json:"http_addr"`

	MQTTBrokerURI   string `json:"mqtt_broker_uri"`
	MQTTUsername    string `json:"mqtt_username"`
	MQTTPassword    string `json:"mqtt_password"`
	MQTTTopicFills  string `json:"mqtt_topic_fills"`
	MQTTTopicEvents string `json:"mqtt_topic_events"`
	MQTTTopicStatus string `json:"mqtt_topic_status"`

	ParamStorePath string `json:"param_store_path"`

	Cloud *Cloud `json:"cloud,omitempty"`

	// Attributes carries free-form, device-specific overrides (e.g. an
	// experimental zone table) that don't warrant a first-class field;
	// decoded on demand via AttributeMap.Decode.
	Attributes AttributeMap `json:"attributes,omitempty"`
}

// ApplyDefaults fills zero-valued fields with the package defaults.
// Read always calls this; exported so callers building a Config in
// code (tests, the CLI's --config-less path) get the same defaults.
func (c *Config) ApplyDefaults() {
	if c.DeviceID == "" {
		c.DeviceID = DefaultMQTTDeviceID
	}
	if c.Version == "" {
		c.Version = DefaultFirmwareVersion
	}
	if c.ScalePort == "" {
		c.ScalePort = DefaultScalePort
	}
	if c.ScaleBaudRate == 0 {
		c.ScaleBaudRate = DefaultScaleBaudRate
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = DefaultHTTPAddr
	}
	if c.MQTTBrokerURI == "" {
		c.MQTTBrokerURI = DefaultMQTTBrokerURI
	}
	if c.MQTTTopicFills == "" {
		c.MQTTTopicFills = DefaultMQTTTopicFills
	}
	if c.MQTTTopicEvents == "" {
		c.MQTTTopicEvents = DefaultMQTTTopicEvents
	}
	if c.MQTTTopicStatus == "" {
		c.MQTTTopicStatus = DefaultMQTTTopicStatus
	}
	if c.ParamStorePath == "" {
		c.ParamStorePath = DefaultParamStorePath
	}
}

// Validate reports missing required fields. A Cloud stanza, if
// present, must carry both ID and Secret — half a cloud config is a
// config error, not a silently-ignored field.
func (c *Config) Validate() error {
	if c.Cloud != nil {
		if c.Cloud.ID == "" {
			return fmt.Errorf("config: cloud.id is required")
		}
		if c.Cloud.Secret == "" {
			return fmt.Errorf("config: cloud.secret is required")
		}
	}
	return nil
}

// Read loads and validates a JSON config file, applying defaults for
// any field left unset.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// AttributeMap is a free-form attribute bag with typed, panicking
// accessors: callers that reach for a typed accessor are asserting the
// config file is well
// formed, so a type mismatch is a programmer-visible bug, not a
// recoverable runtime condition.
type AttributeMap map[string]interface{}

// Has reports whether key is present.
func (am AttributeMap) Has(key string) bool {
	_, ok := am[key]
	return ok
}

// Bool returns the boolean at key, or def if key is absent. Panics if
// the value is present but not a bool.
func (am AttributeMap) Bool(key string, def bool) bool {
	v, ok := am[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		panic(fmt.Errorf("config: attribute %q: wanted a bool, got %T", key, v))
	}
	return b
}

// Int returns the integer at key, or def if key is absent. JSON
// numbers decode as float64, so both float64 and int are accepted.
func (am AttributeMap) Int(key string, def int) int {
	v, ok := am[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		panic(fmt.Errorf("config: attribute %q: wanted an int, got %T", key, v))
	}
}

// Float32 returns the float at key, or def if key is absent.
func (am AttributeMap) Float32(key string, def float32) float32 {
	v, ok := am[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float32:
		return n
	case float64:
		return float32(n)
	default:
		panic(fmt.Errorf("config: attribute %q: wanted a float, got %T", key, v))
	}
}

// String returns the string at key, or "" if key is absent.
func (am AttributeMap) String(key string) string {
	v, ok := am[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		panic(fmt.Errorf("config: attribute %q: wanted a string, got %T", key, v))
	}
	return s
}

// IntSlice returns the []int at key. Panics if absent or if any
// element is not an int-valued number.
func (am AttributeMap) IntSlice(key string) []int {
	v, ok := am[key]
	if !ok {
		panic(fmt.Errorf("config: attribute %q: not present", key))
	}
	raw, ok := v.([]interface{})
	if !ok {
		panic(fmt.Errorf("config: attribute %q: wanted a []int, got %T", key, v))
	}
	out := make([]int, len(raw))
	for i, elem := range raw {
		n, ok := elem.(float64)
		if !ok {
			if asInt, ok := elem.(int); ok {
				out[i] = asInt
				continue
			}
			panic(fmt.Errorf("config: values in (%s) need to be ints", key))
		}
		out[i] = int(n)
	}
	return out
}

// StringSlice returns the []string at key. Panics if absent or if any
// element is not a string.
func (am AttributeMap) StringSlice(key string) []string {
	v, ok := am[key]
	if !ok {
		panic(fmt.Errorf("config: attribute %q: not present", key))
	}
	raw, ok := v.([]interface{})
	if !ok {
		panic(fmt.Errorf("config: attribute %q: wanted a []string, got %T", key, v))
	}
	out := make([]string, len(raw))
	for i, elem := range raw {
		s, ok := elem.(string)
		if !ok {
			panic(fmt.Errorf("config: values in (%s) need to be strings", key))
		}
		out[i] = s
	}
	return out
}

// Decode decodes the attribute at key into dst (a pointer to a typed
// struct), via mapstructure. Used for e.g. an experimental zone-table
// override without a first-class Config field for it.
func (am AttributeMap) Decode(key string, dst interface{}) error {
	v, ok := am[key]
	if !ok {
		return fmt.Errorf("config: attribute %q: not present", key)
	}
	return mapstructure.Decode(v, dst)
}
