// Package dotlog provides the structured logger used by cmd/got.
package dotlog

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a *zap.Logger. Embedding keeps the familiar zap call
// surface (Debug/Info/Warn/Error, With, Sync) available directly.
type Logger struct {
	*zap.Logger
}

// New builds a Logger at the given level ("debug", "info", "warn", "error").
// An unrecognized level falls back to "info".
func New(level string) (*Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	zl, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: zl}, nil
}

// NewNop returns a Logger that discards everything, used by tests and any
// caller that does not want log output.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

type ctxKey struct{}

// WithRequestID attaches an operation id to the logger and stashes the
// derived logger on the context for downstream retrieval.
func WithRequestID(ctx context.Context, l *Logger, id string) (context.Context, *Logger) {
	derived := &Logger{Logger: l.With(zap.String("op_id", id))}
	return context.WithValue(ctx, ctxKey{}, derived), derived
}

// FromContext retrieves the Logger stashed by WithRequestID, or l if none
// is present.
func FromContext(ctx context.Context, fallback *Logger) *Logger {
	if v, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return v
	}
	return fallback
}
