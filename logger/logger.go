// Package logger provides structured logging for emberkv.
//
// Log levels follow the same hierarchy the rest of the pack uses
// (TRACE, DEBUG, INFO, WARN, ERROR), but the implementation is a thin
// wrapper around go.uber.org/zap rather than a hand-rolled log.Logger:
// zap gives us leveled, structured, allocation-light logging for free,
// and every message carries a "component" field so log lines can be
// grepped per subsystem (keyspace, eventhub, eviction, txlock, ...).
//
// TRACE has no direct zap equivalent; it is modeled as Debug with an
// extra trace=true field so it can still be filtered out cheaply via
// zap's level check without a second atomic beyond zap's own.
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level mirrors the hierarchy used throughout the pack.
type Level int32

const (
	TRACE Level = iota
	DEBUG
	INFO
	WARN
	ERROR
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case TRACE, DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

var (
	mu      sync.RWMutex
	base    *zap.Logger
	atom    = zap.NewAtomicLevel()
	initted bool
)

// Format selects the zap encoder used for output.
type Format int

const (
	FormatConsole Format = iota
	FormatJSON
)

// Init configures the process-wide logger. It is safe to call at most
// once during startup, before any other goroutine logs.
func Init(level Level, format Format) {
	mu.Lock()
	defer mu.Unlock()

	atom.SetLevel(level.zapLevel())

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var enc zapcore.Encoder
	if format == FormatJSON {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stdout), atom)
	base = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	initted = true
}

func ensureInit() {
	mu.RLock()
	ok := initted
	mu.RUnlock()
	if !ok {
		Init(INFO, FormatConsole)
	}
}

// For returns a component-scoped logger, e.g. logger.For("keyspace").
func For(component string) *Logger {
	ensureInit()
	mu.RLock()
	l := base.With(zap.String("component", component))
	mu.RUnlock()
	return &Logger{z: l}
}

// SetLevel adjusts the process-wide minimum level at runtime, used by
// `CONFIG SET server.log_level`.
func SetLevel(level Level) {
	atom.SetLevel(level.zapLevel())
}

// Sync flushes buffered log entries; call during graceful shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if base != nil {
		_ = base.Sync()
	}
}

// Logger is a component-scoped handle onto the process logger.
type Logger struct {
	z *zap.Logger
}

func (l *Logger) Trace(msg string, fields ...zap.Field) {
	l.z.Debug(msg, append(fields, zap.Bool("trace", true))...)
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }

// With returns a derived logger carrying additional structured fields,
// e.g. logger.For("handler").With(zap.Int64("handler_id", id)).
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{z: l.z.With(fields...)}
}
