// Package logger wraps zap behind the key-value calling convention used
// throughout this codebase's workers and handlers.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a structured logger with a variadic key-value calling style.
type Logger struct {
	z *zap.Logger
}

// New builds a Logger. env selects the zap preset: "production" gets JSON
// output at info level, anything else gets a human-readable development
// encoder at debug level.
func New(env string) (*Logger, error) {
	var cfg zap.Config
	if env == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{z: z}, nil
}

func fields(keysAndValues []interface{}) []zap.Field {
	fs := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		fs = append(fs, zap.Any(key, keysAndValues[i+1]))
	}
	return fs
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.z.Debug(msg, fields(keysAndValues)...)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.z.Info(msg, fields(keysAndValues)...)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.z.Warn(msg, fields(keysAndValues)...)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.z.Error(msg, fields(keysAndValues)...)
}

func (l *Logger) Fatal(msg string, keysAndValues ...interface{}) {
	l.z.Fatal(msg, fields(keysAndValues)...)
}

// With returns a child logger carrying the given key-values on every call.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{z: l.z.With(fields(keysAndValues)...)}
}

// Zap exposes the underlying zap logger for call sites that need it
// directly (e.g. passing into a library that wants *zap.Logger).
func (l *Logger) Zap() *zap.Logger {
	return l.z
}

func (l *Logger) Sync() error {
	return l.z.Sync()
}
