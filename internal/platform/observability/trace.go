package observability

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/openshop/api/internal/platform/requestctx"
)

const instrumentationName = "github.com/openshop/api/internal/platform/observability"

// TraceMiddleware continues incoming W3C trace context, opens one server span per request and
// stores the trace on the request context. The span is renamed to the chi route pattern once
// routing has resolved, and traceparent is echoed on the response.
func TraceMiddleware(serviceName string) func(http.Handler) http.Handler {
	tracer := otel.Tracer(instrumentationName)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(requestAttributes(r)...),
			)
			defer func() {
				if rctx := chi.RouteContext(r.Context()); rctx != nil {
					if pattern := rctx.RoutePattern(); pattern != "" {
						span.SetName(r.Method + " " + pattern)
					}
				}
				span.End()
			}()

			sc := span.SpanContext()
			ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{
				TraceID:     sc.TraceID().String(),
				SpanID:      sc.SpanID().String(),
				Sampled:     sc.IsSampled(),
				ServiceName: serviceName,
			})
			propagation.TraceContext{}.Inject(ctx, propagation.HeaderCarrier(w.Header()))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestAttributes(r *http.Request) []attribute.KeyValue {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	attrs := []attribute.KeyValue{
		semconv.HTTPRequestMethodKey.String(r.Method),
		semconv.URLScheme(scheme),
		semconv.URLPath(cleanField(r.URL.Path, 180)),
	}
	if r.Host != "" {
		attrs = append(attrs, semconv.ServerAddress(r.Host))
	}
	if ua := r.UserAgent(); ua != "" {
		attrs = append(attrs, semconv.UserAgentOriginal(cleanField(ua, 256)))
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		attrs = append(attrs, attribute.String("openshop.idempotency_key", cleanField(key, 64)))
	}
	return attrs
}
