// Package logging provides the service's structured logger.
//
// Call sites pass a message and an optional set of Fields:
//
//	logger.Info("Order created", logging.Fields{"order_id": order.ID})
package logging

import (
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Fields carries structured key/value context for a log entry.
type Fields map[string]interface{}

// Config selects the level and encoding of the root logger.
type Config struct {
	Level    string
	Encoding string
}

// Logger wraps a zap logger with the Fields-based call shape used across the service.
type Logger struct {
	zl *zap.Logger
}

// New builds the root logger for a service.
func New(service string, cfg Config) (*Logger, error) {
	zc := zap.NewProductionConfig()
	if strings.EqualFold(cfg.Encoding, "console") {
		zc = zap.NewDevelopmentConfig()
	}

	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			return nil, err
		}
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zl, err := zc.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}

	return &Logger{zl: zl.With(zap.String("service", service))}, nil
}

// NewFromZap adapts an existing zap logger.
func NewFromZap(zl *zap.Logger) *Logger {
	return &Logger{zl: zl}
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{zl: zap.NewNop()}
}

// Named returns a child logger tagged with a component name.
func (l *Logger) Named(component string) *Logger {
	return &Logger{zl: l.zl.With(zap.String("component", component))}
}

// With returns a child logger that always carries the given fields.
func (l *Logger) With(fields Fields) *Logger {
	return &Logger{zl: l.zl.With(fields.zap()...)}
}

func (l *Logger) Debug(msg string, fields ...Fields) {
	l.zl.Debug(msg, merge(fields).zap()...)
}

func (l *Logger) Info(msg string, fields ...Fields) {
	l.zl.Info(msg, merge(fields).zap()...)
}

func (l *Logger) Warn(msg string, fields ...Fields) {
	l.zl.Warn(msg, merge(fields).zap()...)
}

func (l *Logger) Error(msg string, fields ...Fields) {
	l.zl.Error(msg, merge(fields).zap()...)
}

// Fatal logs and exits the process.
func (l *Logger) Fatal(msg string, fields ...Fields) {
	l.zl.Fatal(msg, merge(fields).zap()...)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.zl.Sync()
}

func merge(fields []Fields) Fields {
	switch len(fields) {
	case 0:
		return nil
	case 1:
		return fields[0]
	}
	out := make(Fields)
	for _, f := range fields {
		for k, v := range f {
			out[k] = v
		}
	}
	return out
}

func (f Fields) zap() []zap.Field {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, f[k]))
	}
	return out
}
