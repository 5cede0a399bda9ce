package observability

import (
	"context"
	"maps"
	"os"
	"slices"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/openshop/api/internal/platform/requestctx"
)

type loggerOptions struct {
	level    string
	encoding string
	output   string
}

// LoggerOption customises NewLogger.
type LoggerOption func(*loggerOptions)

// WithLevel sets the minimum level. Unknown levels log at info.
func WithLevel(level string) LoggerOption {
	return func(o *loggerOptions) { o.level = level }
}

// WithConsoleEncoding switches to human-readable output for local runs.
func WithConsoleEncoding() LoggerOption {
	return func(o *loggerOptions) { o.encoding = "console" }
}

func withOutput(path string) LoggerOption {
	return func(o *loggerOptions) { o.output = path }
}

// NewLogger builds the process logger. Without options it reads LOG_LEVEL and LOG_FORMAT and
// writes JSON lines whose severity field Cloud Logging understands.
func NewLogger(opts ...LoggerOption) (*zap.Logger, error) {
	o := loggerOptions{
		level:    os.Getenv("LOG_LEVEL"),
		encoding: "json",
		output:   "stdout",
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("LOG_FORMAT")), "console") {
		o.encoding = "console"
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if raw := strings.ToLower(strings.TrimSpace(o.level)); raw != "" {
		if parsed, err := zapcore.ParseLevel(raw); err == nil {
			level.SetLevel(parsed)
		}
	}

	encoder := zapcore.EncoderConfig{
		MessageKey:    "message",
		TimeKey:       "timestamp",
		LevelKey:      "severity",
		NameKey:       "logger",
		CallerKey:     "caller",
		StacktraceKey: "stacktrace",
		EncodeTime:    zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel:   encodeSeverity,
		EncodeCaller:  zapcore.ShortCallerEncoder,
		EncodeName:    zapcore.FullNameEncoder,
	}
	if o.encoding == "console" {
		encoder.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	return zap.Config{
		Level:             level,
		Encoding:          o.encoding,
		EncoderConfig:     encoder,
		OutputPaths:       []string{o.output},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}.Build()
}

// encodeSeverity writes Cloud Logging severity names.
func encodeSeverity(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch level {
	case zapcore.DebugLevel:
		enc.AppendString("DEBUG")
	case zapcore.InfoLevel:
		enc.AppendString("INFO")
	case zapcore.WarnLevel:
		enc.AppendString("WARNING")
	case zapcore.ErrorLevel:
		enc.AppendString("ERROR")
	case zapcore.DPanicLevel, zapcore.PanicLevel:
		enc.AppendString("CRITICAL")
	case zapcore.FatalLevel:
		enc.AppendString("ALERT")
	default:
		enc.AppendString("DEFAULT")
	}
}

// WithLogger stores logger on ctx for code running outside a request.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// EventLogger adapts logger to the event hook taken by services. Events carrying an "error"
// field log at warn, the rest at debug. A request logger on ctx wins so request_id and
// trace_id follow the event.
func EventLogger(logger *zap.Logger) func(context.Context, string, map[string]any) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		target := logger
		if scoped := requestctx.Logger(ctx); scoped != requestctx.NoopLogger() {
			target = scoped.With(zap.String("component", logger.Name()))
		}

		zfields := []zap.Field{zap.String("event", event)}
		for _, key := range slices.Sorted(maps.Keys(fields)) {
			zfields = append(zfields, zap.Any(key, fields[key]))
		}

		level := zapcore.DebugLevel
		if _, failed := fields["error"]; failed {
			level = zapcore.WarnLevel
		}
		if ce := target.Check(level, event); ce != nil {
			ce.Write(zfields...)
		}
	}
}
