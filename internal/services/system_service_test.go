package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/openshop/api/internal/domain"
)

type stubHealthRepository struct {
	report domain.HealthReport
	err    error
	calls  int
}

func (s *stubHealthRepository) Collect(context.Context) (domain.HealthReport, error) {
	s.calls++
	return s.report, s.err
}

func TestSystemServiceHealthReportEnrichesMetadata(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(5 * time.Minute)
	repo := &stubHealthRepository{
		report: domain.HealthReport{
			Checks: map[string]domain.HealthCheck{
				"postgres": {Status: domain.HealthStatusOK},
			},
		},
	}

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		Build:            BuildInfo{Version: "1.2.3", CommitSHA: "abc123", Environment: "prod", StartedAt: start},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok status, got %s", report.Status)
	}
	if report.Version != "1.2.3" || report.CommitSHA != "abc123" || report.Environment != "prod" {
		t.Fatalf("unexpected build metadata %+v", report)
	}
	if report.Uptime != 5*time.Minute {
		t.Fatalf("expected uptime 5m, got %s", report.Uptime)
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("expected generated at %s, got %s", now, report.GeneratedAt)
	}
}

func TestSystemServiceDerivesWorstStatus(t *testing.T) {
	cases := map[string]map[string]domain.HealthCheck{
		domain.HealthStatusDegraded: {
			"postgres": {Status: domain.HealthStatusOK},
			"redis":    {Status: domain.HealthStatusDegraded},
		},
		domain.HealthStatusError: {
			"redis":  {Status: domain.HealthStatusDegraded},
			"pubsub": {Status: domain.HealthStatusError},
		},
	}
	for want, checks := range cases {
		svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &stubHealthRepository{report: domain.HealthReport{Checks: checks}}})
		if err != nil {
			t.Fatalf("NewSystemService: %v", err)
		}
		report, err := svc.HealthReport(context.Background())
		if err != nil {
			t.Fatalf("HealthReport: %v", err)
		}
		if report.Status != want {
			t.Fatalf("expected %s, got %s", want, report.Status)
		}
	}
}

func TestSystemServicePropagatesRepositoryError(t *testing.T) {
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &stubHealthRepository{err: errors.New("boom")}})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	if _, err := svc.HealthReport(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewSystemServiceRequiresRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatal("expected error without repository")
	}
}

type fixedCacheStats int

func (f fixedCacheStats) Len() int { return int(f) }

func TestSystemServiceReusesReportWithinTTL(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := &stubHealthRepository{report: domain.HealthReport{Checks: map[string]domain.HealthCheck{"memory": {Status: domain.HealthStatusOK}}}}
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Cache:            fixedCacheStats(3),
		Clock:            func() time.Time { return now },
		ReportTTL:        2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	first, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if first.CachedOrders != 3 {
		t.Fatalf("expected 3 cached orders, got %d", first.CachedOrders)
	}
	now = now.Add(time.Second)
	if _, err := svc.HealthReport(context.Background()); err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if repo.calls != 1 {
		t.Fatalf("expected one collection within ttl, got %d", repo.calls)
	}

	now = now.Add(2 * time.Second)
	if _, err := svc.HealthReport(context.Background()); err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if repo.calls != 2 {
		t.Fatalf("expected a fresh collection after ttl, got %d", repo.calls)
	}
}

func TestSystemServiceDoesNotReuseFailures(t *testing.T) {
	repo := &stubHealthRepository{err: errors.New("unreachable")}
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo, ReportTTL: time.Minute})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := svc.HealthReport(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	}
	if repo.calls != 2 {
		t.Fatalf("expected every failing call to collect, got %d", repo.calls)
	}
}
