// Package stationlog wires the process-wide zap logger and the
// per-component named sub-loggers threaded through the Station context.
package stationlog

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level mirrors station.conf's 0..7 log_level scale, loosely following
// syslog severities; only the handful actually used by zap are mapped.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

func zapLevel(l Level) zapcore.Level {
	switch l {
	case LevelError:
		return zapcore.ErrorLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelDebug:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds the process-wide logger. path is the configured log file,
// or "" / "-" for stderr, matching --log-file's optional-rotation syntax
// minus the rotation itself (left to an external logrotate-style tool).
func New(path string, level Level) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel(level))
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if path == "" || path == "-" {
		cfg.OutputPaths = []string{"stderr"}
		cfg.ErrorOutputPaths = []string{"stderr"}
	} else {
		cfg.OutputPaths = []string{path}
		cfg.ErrorOutputPaths = []string{path}
	}
	return cfg.Build()
}

// Nop returns a logger that discards everything, used by tests and by
// selftest mode before the real logger is configured.
func Nop() *zap.Logger { return zap.NewNop() }

// Must panics if New fails; used only at process startup where a
// logger-construction failure is itself fatal and stderr is the only
// sink left to report it through.
func Must(path string, level Level) *zap.Logger {
	l, err := New(path, level)
	if err != nil {
		zap.NewNop().Sugar()
		os.Stderr.WriteString("stationd: failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	return l
}
