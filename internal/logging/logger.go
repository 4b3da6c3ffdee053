package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a production ready structured logger. Level accepts the
// usual zap names (debug, info, warn, error); encoding is "json" or "console".
func NewLogger(level, encoding string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	if encoding != "" {
		cfg.Encoding = encoding
	}
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(parsed)
	}
	return cfg.Build()
}

// WithOperation enriches the logger with operation and session identifiers.
func WithOperation(logger *zap.Logger, operation, sessionID string) *zap.Logger {
	fields := []zap.Field{zap.String("operation", operation)}
	if sessionID != "" {
		fields = append(fields, zap.String("session_id", sessionID))
	}
	return logger.With(fields...)
}

// WithSession enriches the logger with verification session identifiers. Side
// may be empty for session-level events.
func WithSession(logger *zap.Logger, sessionID, side string) *zap.Logger {
	fields := []zap.Field{zap.String("session_id", sessionID)}
	if side != "" {
		fields = append(fields, zap.String("side", side))
	}
	return logger.With(fields...)
}
