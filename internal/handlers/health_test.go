package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	domain "github.com/openshop/api/internal/domain"
	"github.com/openshop/api/internal/services"
)

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

func TestHealthz_ReportsBuildInfo(t *testing.T) {
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	h := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{Version: "1.2.3", CommitSHA: "abc123", Environment: "test", StartedAt: started}),
		WithHealthClock(func() time.Time { return started.Add(90 * time.Second) }),
	)

	rec := doRequest(t, http.HandlerFunc(h.Healthz), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decodeBody[healthResponse](t, rec)
	if resp.Status != domain.HealthStatusOK || resp.Version != "1.2.3" || resp.CommitSHA != "abc123" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Uptime != "1m30s" {
		t.Fatalf("unexpected uptime %q", resp.Uptime)
	}
}

func TestReadyz_OK(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := stubSystemService{report: services.SystemHealthReport{
		HealthReport: domain.HealthReport{
			Status: domain.HealthStatusOK,
			Checks: map[string]domain.HealthCheck{
				"orders": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond},
			},
			GeneratedAt: now,
		},
		Version: "1.2.3",
	}}
	h := NewHealthHandlers(WithHealthSystemService(svc))

	rec := doRequest(t, http.HandlerFunc(h.Readyz), http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decodeBody[healthResponse](t, rec)
	if resp.Checks["orders"].LatencyMS != 12 {
		t.Fatalf("unexpected checks %+v", resp.Checks)
	}
	if len(resp.Details) != 0 {
		t.Fatalf("expected no details, got %v", resp.Details)
	}
}

func TestReadyz_FailingDependency(t *testing.T) {
	svc := stubSystemService{report: services.SystemHealthReport{
		HealthReport: domain.HealthReport{
			Status: domain.HealthStatusDegraded,
			Checks: map[string]domain.HealthCheck{
				"redis":  {Status: domain.HealthStatusError, Detail: "timeout"},
				"orders": {Status: domain.HealthStatusOK},
			},
		},
	}}
	h := NewHealthHandlers(WithHealthSystemService(svc))

	rec := doRequest(t, http.HandlerFunc(h.Readyz), http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	resp := decodeBody[healthResponse](t, rec)
	if len(resp.Details) != 1 || resp.Details[0] != "redis: timeout" {
		t.Fatalf("unexpected details %v", resp.Details)
	}
}

func TestReadyz_ServiceError(t *testing.T) {
	h := NewHealthHandlers(WithHealthSystemService(stubSystemService{err: errors.New("collect failed")}))

	rec := doRequest(t, http.HandlerFunc(h.Readyz), http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if resp := decodeBody[healthResponse](t, rec); resp.Status != domain.HealthStatusError {
		t.Fatalf("unexpected status %q", resp.Status)
	}
}
