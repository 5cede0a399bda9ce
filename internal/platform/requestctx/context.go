// Package requestctx carries per-request values shared by middleware, handlers and services.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type stateKey struct{}

// state is copied on every update so values stored by an outer middleware are never mutated
// by an inner one.
type state struct {
	logger   *zap.Logger
	trace    TraceInfo
	hasTrace bool
}

var noopLogger = zap.NewNop()

// TraceInfo is the trace metadata of the current request.
type TraceInfo struct {
	TraceID     string
	SpanID      string
	Sampled     bool
	ServiceName string
}

func current(ctx context.Context) state {
	if ctx == nil {
		return state{}
	}
	if s, ok := ctx.Value(stateKey{}).(state); ok {
		return s
	}
	return state{}
}

func with(ctx context.Context, update func(*state)) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	s := current(ctx)
	update(&s)
	return context.WithValue(ctx, stateKey{}, s)
}

// WithLogger returns ctx carrying logger. A nil logger is replaced by a no-op logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noopLogger
	}
	return with(ctx, func(s *state) { s.logger = logger })
}

// Logger returns the request logger, or a no-op logger when none was stored.
func Logger(ctx context.Context) *zap.Logger {
	if l := current(ctx).logger; l != nil {
		return l
	}
	return noopLogger
}

// NoopLogger is the logger returned when the context carries none.
func NoopLogger() *zap.Logger { return noopLogger }

// WithTrace returns ctx carrying info.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return with(ctx, func(s *state) {
		s.trace = info
		s.hasTrace = true
	})
}

// Trace returns the trace metadata stored on ctx.
func Trace(ctx context.Context) (TraceInfo, bool) {
	s := current(ctx)
	return s.trace, s.hasTrace
}

// TraceID returns the trace identifier, or "" outside a traced request.
func TraceID(ctx context.Context) string {
	return current(ctx).trace.TraceID
}
