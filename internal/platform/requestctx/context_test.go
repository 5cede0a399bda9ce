package requestctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestLoggerAndTraceAreIndependent(t *testing.T) {
	logger := zap.NewExample()
	ctx := WithLogger(context.Background(), logger)
	traced := WithTrace(ctx, TraceInfo{TraceID: "abc", ServiceName: "openshop-api"})

	if Logger(traced) != logger {
		t.Fatal("expected logger to survive WithTrace")
	}
	if TraceID(traced) != "abc" {
		t.Fatalf("unexpected trace id %q", TraceID(traced))
	}
	if _, ok := Trace(ctx); ok {
		t.Fatal("expected parent context to stay untraced")
	}
}

func TestLoggerDefaultsToNoop(t *testing.T) {
	if Logger(context.Background()) != NoopLogger() {
		t.Fatal("expected noop logger")
	}
	//nolint:staticcheck // nil context is tolerated by the helpers
	if Logger(nil) != NoopLogger() {
		t.Fatal("expected noop logger for nil context")
	}
	if Logger(WithLogger(context.Background(), nil)) != NoopLogger() {
		t.Fatal("expected nil logger to be replaced")
	}
}
