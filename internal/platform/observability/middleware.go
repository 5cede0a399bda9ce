package observability

import (
	"context"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/openshop/api/internal/platform/auth"
	"github.com/openshop/api/internal/platform/httpx"
	"github.com/openshop/api/internal/platform/requestctx"
)

const defaultSlowRequest = 2 * time.Second

// InjectLoggerMiddleware stores logger on the request context for handlers and services.
func InjectLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestctx.WithLogger(r.Context(), logger)))
		})
	}
}

type requestLogConfig struct {
	slow  time.Duration
	quiet map[string]struct{}
}

// RequestLogOption tunes RequestLoggerMiddleware.
type RequestLogOption func(*requestLogConfig)

// WithSlowRequestThreshold logs successful requests slower than d at warn level.
func WithSlowRequestThreshold(d time.Duration) RequestLogOption {
	return func(c *requestLogConfig) {
		if d > 0 {
			c.slow = d
		}
	}
}

// WithQuietPaths suppresses logs for successful requests to the given paths, such as health checks.
func WithQuietPaths(paths ...string) RequestLogOption {
	return func(c *requestLogConfig) {
		for _, p := range paths {
			if p = strings.TrimSpace(p); p != "" {
				c.quiet[p] = struct{}{}
			}
		}
	}
}

// RequestLoggerMiddleware attaches request fields to the context logger and logs one line per
// completed request. Order routes also carry the order id and idempotency key.
func RequestLoggerMiddleware(opts ...RequestLogOption) func(http.Handler) http.Handler {
	cfg := requestLogConfig{slow: defaultSlowRequest, quiet: map[string]struct{}{}}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			traceInfo, _ := requestctx.Trace(ctx)
			logger := requestctx.Logger(ctx).With(
				zap.String("request_id", middleware.GetReqID(ctx)),
				zap.String("method", cleanField(r.Method, 10)),
				zap.String("trace_id", traceInfo.TraceID),
			)
			if ip := remoteIP(r); ip != "" {
				logger = logger.With(zap.String("remote_ip", ip))
			}
			if key := r.Header.Get("Idempotency-Key"); key != "" {
				logger = logger.With(zap.String("idempotency_key", cleanField(key, 64)))
			}
			r = r.WithContext(requestctx.WithLogger(ctx, logger))

			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()
			panicked := true
			defer func() {
				status := rec.status()
				if panicked && status < http.StatusInternalServerError {
					status = http.StatusInternalServerError
				}
				route := routePattern(r)
				latency := time.Since(start)
				annotateSpan(trace.SpanFromContext(r.Context()), route, status)

				if _, ok := cfg.quiet[r.URL.Path]; ok && status < http.StatusBadRequest {
					return
				}
				fields := []zap.Field{
					zap.String("route", route),
					zap.String("user_id", userID(r.Context())),
					zap.Int("status", status),
					zap.Duration("latency", latency),
					zap.Int64("bytes", rec.bytes),
				}
				if orderID := chi.URLParam(r, "orderID"); orderID != "" {
					fields = append(fields, zap.String("order_id", cleanField(orderID, 64)))
				}
				level := completionLevel(status, latency, cfg.slow)
				if level == zapcore.WarnLevel && status < http.StatusBadRequest {
					fields = append(fields, zap.Bool("slow", true))
				}
				if ce := logger.Check(level, "request completed"); ce != nil {
					ce.Write(fields...)
				}
			}()

			next.ServeHTTP(rec, r)
			panicked = false
		})
	}
}

// RecoveryMiddleware turns panics into a JSON 500 and logs the stack.
func RecoveryMiddleware(fallback *zap.Logger) func(http.Handler) http.Handler {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				ctx := r.Context()
				logger := requestctx.Logger(ctx)
				if logger == requestctx.NoopLogger() {
					logger = fallback
				}
				logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("path", cleanField(r.URL.Path, 180)),
					zap.ByteString("stack", debug.Stack()),
				)
				httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func completionLevel(status int, latency, slow time.Duration) zapcore.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case status >= http.StatusBadRequest:
		return zapcore.WarnLevel
	case slow > 0 && latency >= slow:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

func annotateSpan(span trace.Span, route string, status int) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.SetAttributes(semconv.HTTPResponseStatusCode(status), semconv.HTTPRoute(route))
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}

func userID(ctx context.Context) string {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil {
		return ""
	}
	return cleanField(identity.UID, 64)
}

// routePattern must run after routing so chi has resolved the full pattern.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return cleanField(pattern, 180)
		}
	}
	if r.URL != nil && r.URL.Path != "" {
		return cleanField(r.URL.Path, 180)
	}
	return "/"
}

func remoteIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return cleanField(addr, 64)
}

type statusRecorder struct {
	http.ResponseWriter
	code  int
	bytes int64
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.code == 0 {
		r.code = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.code == 0 {
		r.code = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

func (r *statusRecorder) status() int {
	if r.code == 0 {
		return http.StatusOK
	}
	return r.code
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
