package secrets

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/grpc/status"
)

// Resolution sources recorded on the duration histogram.
const (
	sourceCache    = "cache"
	sourceRemote   = "remote"
	sourceFallback = "fallback"
	sourceError    = "error"
)

type instruments struct {
	duration  metric.Float64Histogram
	cacheHits metric.Int64Counter
}

func newInstruments(meter metric.Meter, logger *zap.Logger) instruments {
	var ins instruments
	var err error
	if ins.duration, err = meter.Float64Histogram("openshop.secrets.resolve.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Time spent resolving a secret reference"),
	); err != nil {
		logger.Warn("secrets: duration histogram unavailable", zap.Error(err))
	}
	if ins.cacheHits, err = meter.Int64Counter("openshop.secrets.cache_hits",
		metric.WithDescription("Secret resolutions served from the in-process cache"),
	); err != nil {
		logger.Warn("secrets: cache hit counter unavailable", zap.Error(err))
	}
	return ins
}

func (i instruments) resolved(ctx context.Context, started time.Time, source string, err error) {
	if i.duration == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("source", source)}
	if err != nil {
		attrs = append(attrs, attribute.String("code", status.Code(err).String()))
	}
	elapsed := float64(time.Since(started)) / float64(time.Millisecond)
	i.duration.Record(ctx, elapsed, metric.WithAttributes(attrs...))
}

func (i instruments) hit(ctx context.Context, ref reference) {
	if i.cacheHits == nil {
		return
	}
	i.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", ref.masked())))
}
