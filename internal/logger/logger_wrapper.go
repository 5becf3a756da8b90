// Package logger implements the contracts.Logger interface on top of
// go.uber.org/zap.
package logger

import (
	"os"
	"time"

	"github.com/leandrodaf/midifabric/sdk/contracts"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger is a contracts.Logger implementation backed by Uber's zap.
type ZapLogger struct {
	logger *zap.Logger
	level  contracts.LogLevel
}

// NewZapLogger creates a production zap logger wrapped in the fabric's
// logging contract.
func NewZapLogger() contracts.Logger {
	logger, _ := zap.NewProduction(zap.AddCallerSkip(1))
	return &ZapLogger{logger: logger, level: contracts.InfoLevel}
}

// NewNop returns a logger that discards everything. Used by tests and as the
// fallback when callers pass no logger.
func NewNop() contracts.Logger {
	return &ZapLogger{logger: zap.NewNop(), level: contracts.ErrorLevel}
}

// Info logs a message at the INFO level.
func (z *ZapLogger) Info(msg string, fields ...contracts.Field) {
	z.log(zapcore.InfoLevel, msg, fields...)
}

// Error logs a message at the ERROR level.
func (z *ZapLogger) Error(msg string, fields ...contracts.Field) {
	z.log(zapcore.ErrorLevel, msg, fields...)
}

// Debug logs a message at the DEBUG level.
func (z *ZapLogger) Debug(msg string, fields ...contracts.Field) {
	z.log(zapcore.DebugLevel, msg, fields...)
}

// Warn logs a message at the WARN level.
func (z *ZapLogger) Warn(msg string, fields ...contracts.Field) {
	z.log(zapcore.WarnLevel, msg, fields...)
}

// Fatal logs a message at the FATAL level and terminates the application.
func (z *ZapLogger) Fatal(msg string, fields ...contracts.Field) {
	z.log(zapcore.FatalLevel, msg, fields...)
	os.Exit(1)
}

// Field returns a new field builder.
func (z *ZapLogger) Field() contracts.Field {
	return &zapField{}
}

// SetLevel sets the logging level.
func (z *ZapLogger) SetLevel(level contracts.LogLevel) {
	z.level = level
}

func (z *ZapLogger) log(level zapcore.Level, msg string, fields ...contracts.Field) {
	if z.suppressed(level) {
		return
	}
	zf := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		if f, ok := field.(*zapField); ok {
			zf = append(zf, zap.Any(f.key, f.value))
		}
	}
	switch level {
	case zapcore.InfoLevel:
		z.logger.Info(msg, zf...)
	case zapcore.ErrorLevel:
		z.logger.Error(msg, zf...)
	case zapcore.DebugLevel:
		z.logger.Debug(msg, zf...)
	case zapcore.WarnLevel:
		z.logger.Warn(msg, zf...)
	case zapcore.FatalLevel:
		z.logger.Fatal(msg, zf...)
	}
}

// suppressed maps the contract's level ordering onto zap's.
func (z *ZapLogger) suppressed(level zapcore.Level) bool {
	switch z.level {
	case contracts.DebugLevel:
		return false
	case contracts.InfoLevel:
		return level == zapcore.DebugLevel
	case contracts.WarnLevel:
		return level < zapcore.WarnLevel
	case contracts.ErrorLevel:
		return level < zapcore.ErrorLevel
	case contracts.FatalLevel:
		return level < zapcore.FatalLevel
	}
	return false
}

// zapField implements contracts.Field as a single key/value pair.
type zapField struct {
	key   string
	value interface{}
}

func (f *zapField) Bool(key string, val bool) contracts.Field {
	return &zapField{key, val}
}

func (f *zapField) Int(key string, val int) contracts.Field {
	return &zapField{key, val}
}

func (f *zapField) Float64(key string, val float64) contracts.Field {
	return &zapField{key, val}
}

func (f *zapField) String(key string, val string) contracts.Field {
	return &zapField{key, val}
}

func (f *zapField) Time(key string, val time.Time) contracts.Field {
	return &zapField{key, val}
}

func (f *zapField) Int64(key string, val int64) contracts.Field {
	return &zapField{key, val}
}

func (f *zapField) Error(key string, val error) contracts.Field {
	return &zapField{key, val}
}

func (f *zapField) Uint64(key string, val uint64) contracts.Field {
	return &zapField{key, val}
}

func (f *zapField) Uint8(key string, val uint8) contracts.Field {
	return &zapField{key, val}
}
