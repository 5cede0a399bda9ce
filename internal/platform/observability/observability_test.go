package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/openshop/api/internal/platform/config"
	"github.com/openshop/api/internal/platform/requestctx"
)

func TestEventLoggerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := EventLogger(zap.New(core).Named("orders"))

	log(context.Background(), "order.created", map[string]any{"orderId": "ord_1"})
	log(context.Background(), "order.cancel.failed", map[string]any{"orderId": "ord_1", "error": "already shipped"})

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	require.Equal(t, zapcore.DebugLevel, entries[0].Level)
	require.Equal(t, "order.created", entries[0].Message)
	require.Equal(t, "ord_1", entries[0].ContextMap()["orderId"])
	require.Equal(t, zapcore.WarnLevel, entries[1].Level)
	require.Equal(t, "already shipped", entries[1].ContextMap()["error"])
}

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	requestLogger := zap.New(core).With(zap.String("request_id", "req-1"))
	ctx := requestctx.WithLogger(context.Background(), requestLogger)

	EventLogger(zap.NewNop().Named("cart"))(ctx, "cart.save.failed", map[string]any{"error": "conflict"})

	entries := logs.AllUntimed()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "req-1", fields["request_id"])
	require.Equal(t, "cart", fields["component"])
}

func TestTraceMiddlewareContinuesIncomingTrace(t *testing.T) {
	previous := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(previous) })

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	var seen requestctx.TraceInfo
	handler := TraceMiddleware("openshop-api")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, traceID, seen.TraceID)
	require.Equal(t, "openshop-api", seen.ServiceName)
	require.True(t, strings.Contains(rec.Header().Get("traceparent"), traceID))
}

func TestRequestLoggerMiddlewareLogsCompletion(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := InjectLoggerMiddleware(zap.New(core))(
		RequestLoggerMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})),
	)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/orders/x", nil))

	completed := logs.FilterMessage("request completed").AllUntimed()
	require.Len(t, completed, 1)
	require.Equal(t, zapcore.WarnLevel, completed[0].Level)
	require.EqualValues(t, http.StatusNotFound, completed[0].ContextMap()["status"])
}

func TestRecoveryMiddlewareWritesJSONError(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal_server_error")
	require.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestSetupTracerWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := SetupTracer(context.Background(), config.TelemetryConfig{ServiceName: "openshop-api"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestCleanFieldStripsControlCharacters(t *testing.T) {
	require.Equal(t, "GET", cleanField("G\x00ET", 10))
	require.Equal(t, "forged entry", cleanField("forged\n entry", 64))
	require.Len(t, []rune(cleanField(strings.Repeat("ü", 100), 64)), 64)
}

func TestRequestLoggerMiddlewareAddsOrderFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	router := chi.NewRouter()
	router.Use(InjectLoggerMiddleware(zap.New(core)), RequestLoggerMiddleware())
	router.Post("/api/v1/orders/{orderID}:cancel", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/ord_1:cancel", nil)
	req.Header.Set("Idempotency-Key", "key-1")
	router.ServeHTTP(httptest.NewRecorder(), req)

	completed := logs.FilterMessage("request completed").AllUntimed()
	require.Len(t, completed, 1)
	fields := completed[0].ContextMap()
	require.Equal(t, "ord_1", fields["order_id"])
	require.Equal(t, "key-1", fields["idempotency_key"])
	require.Equal(t, "/api/v1/orders/{orderID}:cancel", fields["route"])
}

func TestRequestLoggerMiddlewareQuietPaths(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	var status int
	handler := InjectLoggerMiddleware(zap.New(core))(
		RequestLoggerMiddleware(WithQuietPaths("/healthz"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})),
	)

	status = http.StatusOK
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, 0, logs.Len())

	status = http.StatusServiceUnavailable
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, 1, logs.FilterMessage("request completed").Len())
}

func TestCompletionLevel(t *testing.T) {
	require.Equal(t, zapcore.InfoLevel, completionLevel(http.StatusOK, time.Millisecond, time.Second))
	require.Equal(t, zapcore.WarnLevel, completionLevel(http.StatusOK, 2*time.Second, time.Second))
	require.Equal(t, zapcore.WarnLevel, completionLevel(http.StatusConflict, time.Millisecond, time.Second))
	require.Equal(t, zapcore.ErrorLevel, completionLevel(http.StatusBadGateway, time.Millisecond, time.Second))
}

func TestNewLoggerWritesCloudLoggingSeverity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	logger, err := NewLogger(WithLevel("warn"), withOutput(path))
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("payment retry", zap.String("orderId", "ord_1"))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "WARNING", entry["severity"])
	require.Equal(t, "payment retry", entry["message"])
	require.Equal(t, "ord_1", entry["orderId"])
}

func TestNewLoggerUnknownLevelFallsBackToInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	logger, err := NewLogger(WithLevel("verbose"), withOutput(path))
	require.NoError(t, err)
	require.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	require.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}
