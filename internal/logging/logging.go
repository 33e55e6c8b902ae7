// Package logging constructs the process-wide structured logger. Earmark,
// rebalance operation and swap status changes are logged as one line each
// through this logger, never via fmt.Println/log.Printf; the event queue's
// enqueue/dequeue/dead-letter operations are not logged.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.SugaredLogger configured per the requested level.
// level follows zap's parse syntax: "debug", "info", "warn", "error".
func New(level string) (*zap.SugaredLogger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, err
		}
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// Noop returns a logger that discards everything, used by tests.
func Noop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// Transition logs a single state-transition line in a uniform shape so log
// processors can key on "entity", "id" and "status".
func Transition(log *zap.SugaredLogger, entity, id, fromStatus, toStatus string, extra ...any) {
	fields := append([]any{
		"entity", entity,
		"id", id,
		"from", fromStatus,
		"to", toStatus,
	}, extra...)
	log.Infow("state transition", fields...)
}
