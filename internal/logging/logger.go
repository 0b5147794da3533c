// Package logging wraps zap with a context-first API that stamps
// OpenTelemetry trace and span ids onto every entry.
package logging

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logger used across the service.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...zap.Field)
	Info(ctx context.Context, msg string, fields ...zap.Field)
	Warn(ctx context.Context, msg string, fields ...zap.Field)
	Error(ctx context.Context, msg string, fields ...zap.Field)

	With(fields ...zap.Field) Logger
	Named(name string) Logger
	Zap() *zap.Logger
	Sync() error
}

// Config selects level, encoding and destination.
type Config struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

type zapLogger struct {
	z *zap.Logger
}

// New builds a logger. Format is "json" or "console".
func New(cfg Config) (Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		var err error
		if level, err = zapcore.ParseLevel(cfg.Level); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	var encoder zapcore.Encoder
	switch cfg.Format {
	case "", "json":
		ec := zap.NewProductionEncoderConfig()
		ec.TimeKey = "timestamp"
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(ec)
	case "console":
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(ec)
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	out := cfg.OutputPath
	if out == "" {
		out = "stdout"
	}
	sink, _, err := zap.Open(out)
	if err != nil {
		return nil, fmt.Errorf("open log output %s: %w", out, err)
	}

	core := zapcore.NewCore(encoder, sink, level)
	return &zapLogger{z: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))}, nil
}

// Wrap adapts an existing zap logger, e.g. zaptest.NewLogger in tests.
func Wrap(z *zap.Logger) Logger {
	return &zapLogger{z: z}
}

// Nop discards everything.
func Nop() Logger {
	return &zapLogger{z: zap.NewNop()}
}

func (l *zapLogger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	l.z.Debug(msg, withTrace(ctx, fields)...)
}

func (l *zapLogger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	l.z.Info(msg, withTrace(ctx, fields)...)
}

func (l *zapLogger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.z.Warn(msg, withTrace(ctx, fields)...)
}

func (l *zapLogger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	l.z.Error(msg, withTrace(ctx, fields)...)
}

func (l *zapLogger) With(fields ...zap.Field) Logger {
	return &zapLogger{z: l.z.With(fields...)}
}

func (l *zapLogger) Named(name string) Logger {
	return &zapLogger{z: l.z.Named(name)}
}

func (l *zapLogger) Zap() *zap.Logger { return l.z }

func (l *zapLogger) Sync() error { return l.z.Sync() }

func withTrace(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return fields
	}
	out := make([]zap.Field, 0, len(fields)+2)
	out = append(out, zap.String("trace_id", sc.TraceID().String()), zap.String("span_id", sc.SpanID().String()))
	return append(out, fields...)
}

// Tenant is the field every tenant-scoped entry carries.
func Tenant(id string) zap.Field {
	return zap.String("tenant_id", id)
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = Nop()
)

// SetDefault replaces the process-wide logger.
func SetDefault(l Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// Default returns the process-wide logger. It discards until SetDefault.
func Default() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}
