package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

// Logger is the structured logger handed to every fillcore component. It is
// a thin facade over zap.SugaredLogger so packages never import zap
// directly.
type Logger struct {
	*zap.SugaredLogger
	name string
}

// NewLogger builds a production logger named name, writing human-readable
// lines to stderr at INFO and above.
func NewLogger(name string) *Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(INFO.zapLevel())
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// The config above is static; Build cannot fail on it.
		panic(err)
	}
	return &Logger{SugaredLogger: base.Named(name).Sugar(), name: name}
}

// NewTestLogger returns a logger that writes to the test's own log output.
func NewTestLogger(tb testing.TB) *Logger {
	base := zaptest.NewLogger(tb, zaptest.Level(DEBUG.zapLevel()))
	return &Logger{SugaredLogger: base.Sugar(), name: tb.Name()}
}

// Named returns a child logger that prefixes every line with name, nested
// under the parent's existing name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.Named(name), name: l.name + "." + name}
}

// AtLevel reports whether the logger would emit a message at the given level.
func (l *Logger) AtLevel(level Level) bool {
	return l.Desugar().Core().Enabled(level.zapLevel())
}
