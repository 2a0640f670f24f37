package logger

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logger settings
type Config struct {
	Level       string // debug, info, warn, error
	ServiceName string
	Development bool
}

// Logger wraps zap.Logger with trace-aware helpers
type Logger struct {
	*zap.Logger
}

var (
	global *Logger
	mu     sync.RWMutex
)

// Init builds the global logger. JSON output in production, console output in development.
func Init(cfg *Config) error {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return err
		}
	}

	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.TimeKey = "timestamp"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	zl, err := zcfg.Build()
	if err != nil {
		return err
	}
	if cfg.ServiceName != "" {
		zl = zl.With(zap.String("service", cfg.ServiceName))
	}

	mu.Lock()
	global = &Logger{Logger: zl}
	mu.Unlock()
	return nil
}

// New wraps an existing zap logger, mostly for tests
func New(zl *zap.Logger) *Logger {
	return &Logger{Logger: zl}
}

// Get returns the global logger, or a no-op logger if Init was never called
func Get() *Logger {
	mu.RLock()
	defer mu.RUnlock()
	if global == nil {
		return &Logger{Logger: zap.NewNop()}
	}
	return global
}

// Sync flushes buffered log entries
func Sync() {
	_ = Get().Logger.Sync()
}

// With returns a child logger with the given fields attached
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...)}
}

// WithContext attaches the active trace and span ids, if any
func (l *Logger) WithContext(ctx context.Context) *Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return l
	}
	return l.With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}

// ErrorContext logs at error level with trace correlation fields
func (l *Logger) ErrorContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.WithContext(ctx).Logger.Error(msg, fields...)
}

// InfoContext logs at info level with trace correlation fields
func (l *Logger) InfoContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.WithContext(ctx).Logger.Info(msg, fields...)
}

// Debug logs via the global logger
func Debug(msg string, fields ...zap.Field) {
	Get().Logger.Debug(msg, fields...)
}

// Info logs via the global logger
func Info(msg string, fields ...zap.Field) {
	Get().Logger.Info(msg, fields...)
}

// Warn logs via the global logger
func Warn(msg string, fields ...zap.Field) {
	Get().Logger.Warn(msg, fields...)
}

// Error logs via the global logger
func Error(msg string, fields ...zap.Field) {
	Get().Logger.Error(msg, fields...)
}

// Fatal logs via the global logger and exits
func Fatal(msg string, fields ...zap.Field) {
	Get().Logger.Fatal(msg, fields...)
}
