package logging

import (
	"encoding/json"
	"testing"

	"go.uber.org/zap/zapcore"

	"go.viam.com/test"
)

func TestLevelStringRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		level Level
		want  string
	}{
		{DEBUG, "Debug"},
		{INFO, "Info"},
		{WARN, "Warn"},
		{ERROR, "Error"},
	} {
		test.That(t, tc.level.String(), test.ShouldEqual, tc.want)
		parsed, err := LevelFromString(tc.level.String())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, parsed, test.ShouldEqual, tc.level)
	}
}

func TestLevelFromStringAliasesAndErrors(t *testing.T) {
	parsed, err := LevelFromString("warning")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, parsed, test.ShouldEqual, WARN)

	parsed, err = LevelFromString("ERROR")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, parsed, test.ShouldEqual, ERROR)

	_, err = LevelFromString("loud")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestLevelJSONMarshalsAsName(t *testing.T) {
	out, err := json.Marshal(WARN)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(out), test.ShouldEqual, `"Warn"`)

	var back Level
	test.That(t, json.Unmarshal(out, &back), test.ShouldBeNil)
	test.That(t, back, test.ShouldEqual, WARN)
}

func TestLevelJSONRejectsBadInput(t *testing.T) {
	var level Level
	test.That(t, json.Unmarshal([]byte(`{}`), &level), test.ShouldNotBeNil)
	test.That(t, json.Unmarshal([]byte(`"not a level"`), &level), test.ShouldNotBeNil)
}

func TestZapLevelMapping(t *testing.T) {
	test.That(t, DEBUG.zapLevel(), test.ShouldEqual, zapcore.DebugLevel)
	test.That(t, INFO.zapLevel(), test.ShouldEqual, zapcore.InfoLevel)
	test.That(t, WARN.zapLevel(), test.ShouldEqual, zapcore.WarnLevel)
	test.That(t, ERROR.zapLevel(), test.ShouldEqual, zapcore.ErrorLevel)
}

func TestTestLoggerEmitsAtDebug(t *testing.T) {
	logger := NewTestLogger(t)
	test.That(t, logger.AtLevel(DEBUG), test.ShouldBeTrue)
	test.That(t, logger.AtLevel(ERROR), test.ShouldBeTrue)
}

func TestNamedNestsTheName(t *testing.T) {
	logger := NewTestLogger(t)
	child := logger.Named("weight")
	test.That(t, child.name, test.ShouldEqual, t.Name()+".weight")
}
