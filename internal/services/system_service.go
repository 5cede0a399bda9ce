package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	domain "github.com/openshop/api/internal/domain"
	"github.com/openshop/api/internal/repositories"
)

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// CacheStats reports the size of the order cache.
type CacheStats interface {
	Len() int
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Cache            CacheStats
	Clock            func() time.Time
	Build            BuildInfo
	// ReportTTL reuses a collected report for this long so frequent health checks do not fan out to
	// every backend. Zero collects on every call.
	ReportTTL time.Duration
}

type systemService struct {
	healthRepo repositories.HealthRepository
	cache      CacheStats
	clock      func() time.Time
	build      BuildInfo
	ttl        time.Duration

	mu          sync.Mutex
	last        domain.HealthReport
	collectedAt time.Time
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the service behind /readyz.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}
	ttl := deps.ReportTTL
	if ttl < 0 {
		ttl = 0
	}
	return &systemService{
		healthRepo: deps.HealthRepository,
		cache:      deps.Cache,
		clock:      func() time.Time { return clock().UTC() },
		build:      build,
		ttl:        ttl,
	}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	now := s.clock()
	report, err := s.collect(ctx, now)
	if err != nil {
		return SystemHealthReport{}, err
	}

	out := SystemHealthReport{
		HealthReport: report,
		Version:      s.build.Version,
		CommitSHA:    s.build.CommitSHA,
		Environment:  s.build.Environment,
		Uptime:       now.Sub(s.build.StartedAt),
	}
	if s.cache != nil {
		out.CachedOrders = s.cache.Len()
	}
	return out, nil
}

// collect returns the memoised report while it is fresh. Failed collections are never memoised.
func (s *systemService) collect(ctx context.Context, now time.Time) (domain.HealthReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ttl > 0 && !s.collectedAt.IsZero() && now.Sub(s.collectedAt) < s.ttl {
		return s.last, nil
	}

	report, err := s.healthRepo.Collect(ctx)
	if err != nil {
		return domain.HealthReport{}, err
	}
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.HealthCheck{}
	}
	if strings.TrimSpace(report.Status) == "" {
		report.Status = worstStatus(report.Checks)
	}

	s.last = report
	s.collectedAt = now
	return report, nil
}

func worstStatus(checks map[string]domain.HealthCheck) string {
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusOK, "":
		case domain.HealthStatusError:
			return domain.HealthStatusError
		default:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
