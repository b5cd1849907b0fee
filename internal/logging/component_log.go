package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ComponentLogger is the Engine's host-exposed log(level, message) sink
//: a distinct, high-volume stream tagged per invocation with
// (service_id, workflow_id, digest), kept separate from the subsystem logs
// in Logger so a noisy component can't drown out dispatcher-level logging.
// zap is used here instead of logrus because this path is on the hot
// execution loop for every trigger invocation.
type ComponentLogger struct {
	core *zap.Logger
}

var (
	componentOnce sync.Once
	componentBase *zap.Logger
)

func baseComponentLogger() *zap.Logger {
	componentOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		l, err := cfg.Build()
		if err != nil {
			l = zap.NewNop()
		}
		componentBase = l
	})
	return componentBase
}

// NewComponentLogger returns a logger pre-tagged for one component
// invocation.
func NewComponentLogger(serviceID, workflowID, digest string) *ComponentLogger {
	return &ComponentLogger{
		core: baseComponentLogger().With(
			zap.String("service_id", serviceID),
			zap.String("workflow_id", workflowID),
			zap.String("digest", digest),
		),
	}
}

// Log level values accepted by the guest log(level, message) host call.
const (
	LevelTrace = "trace"
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Log records a single component log line at the given level.
func (c *ComponentLogger) Log(level, message string) {
	switch level {
	case LevelTrace, LevelDebug:
		c.core.Debug(message)
	case LevelWarn:
		c.core.Warn(message)
	case LevelError:
		c.core.Error(message)
	default:
		c.core.Info(message)
	}
}

// Sync flushes buffered log entries; call on shutdown.
func (c *ComponentLogger) Sync() { _ = c.core.Sync() }
