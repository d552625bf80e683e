// Package swimlog wraps go.uber.org/zap the way andydunstall-piko's
// pkg/log does, trimmed to what a single-subsystem process needs: no
// per-subsystem enable-list, just a level-filtered structured logger.
package swimlog

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	swim "github.com/Paulius0112/swim-rs"
)

// Logger adapts swim.Logger to zap. The event loop never imports zap
// directly; it logs through swim.Field values, which this type converts.
type Logger struct {
	z *zap.Logger
}

// New builds a JSON logger writing to stderr at the given level
// ("debug", "info", "warn", or "error").
func New(level string) (*Logger, error) {
	zapLevel, err := levelFromString(level)
	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewJSONEncoder(encoderConfig)

	sink, _, err := zap.Open("stderr")
	if err != nil {
		return nil, fmt.Errorf("swimlog: open sink: %w", err)
	}

	core := zapcore.NewCore(enc, sink, zap.NewAtomicLevelAt(zapLevel))
	return &Logger{z: zap.New(core)}, nil
}

// NewNop returns a Logger that discards everything, used in tests and as
// a safe default.
func NewNop() *Logger {
	return &Logger{z: zap.NewNop()}
}

func (l *Logger) Debug(msg string, fields ...swim.Field) { l.z.Debug(msg, toZap(fields)...) }
func (l *Logger) Info(msg string, fields ...swim.Field)  { l.z.Info(msg, toZap(fields)...) }
func (l *Logger) Warn(msg string, fields ...swim.Field)  { l.z.Warn(msg, toZap(fields)...) }
func (l *Logger) Error(msg string, fields ...swim.Field) { l.z.Error(msg, toZap(fields)...) }

// Sync flushes any buffered log entries, called once on shutdown.
func (l *Logger) Sync() error { return l.z.Sync() }

func toZap(fields []swim.Field) []zap.Field {
	out := make([]zap.Field, len(fields))
	for i, f := range fields {
		out[i] = zap.Any(f.Key, f.Value)
	}
	return out
}

func levelFromString(s string) (zapcore.Level, error) {
	switch s {
	case "debug":
		return zap.DebugLevel, nil
	case "", "info":
		return zap.InfoLevel, nil
	case "warn":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	default:
		return zapcore.Level(0), fmt.Errorf("swimlog: unsupported level %q", s)
	}
}
