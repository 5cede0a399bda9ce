package handlers

import (
	"net/http"
	"sort"
	"time"

	domain "github.com/openshop/api/internal/domain"
	"github.com/openshop/api/internal/services"
)

// HealthHandlers serve the liveness and readiness endpoints.
type HealthHandlers struct {
	system services.SystemService
	build  services.BuildInfo
	now    func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthSystemService sets the service checked by /readyz. Without it readiness mirrors liveness.
func WithHealthSystemService(svc services.SystemService) HealthOption {
	return func(h *HealthHandlers) { h.system = svc }
}

// WithHealthBuildInfo sets the metadata reported by /healthz.
func WithHealthBuildInfo(info services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) { h.build = info }
}

// WithHealthClock overrides the clock, for tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.now = clock
		}
	}
}

// NewHealthHandlers constructs the health handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.now()
	}
	return h
}

type healthResponse struct {
	Status       string                 `json:"status"`
	Version      string                 `json:"version,omitempty"`
	CommitSHA    string                 `json:"commitSha,omitempty"`
	Environment  string                 `json:"environment,omitempty"`
	Uptime       string                 `json:"uptime"`
	Timestamp    string                 `json:"timestamp"`
	Checks       map[string]checkResult `json:"checks,omitempty"`
	CachedOrders int                    `json:"cachedOrders,omitempty"`
	Details      []string               `json:"details,omitempty"`
}

type checkResult struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

// Healthz reports that the process is serving. It never touches dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	now := h.now().UTC()
	writeJSONResponse(w, http.StatusOK, healthResponse{
		Status:      domain.HealthStatusOK,
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).Truncate(time.Second).String(),
		Timestamp:   now.Format(time.RFC3339),
	})
}

// Readyz checks the storage backend and optional dependencies. Any failing check yields 503.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.system == nil {
		h.Healthz(w, r)
		return
	}

	report, err := h.system.HealthReport(r.Context())
	if err != nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, healthResponse{
			Status:    domain.HealthStatusError,
			Timestamp: h.now().UTC().Format(time.RFC3339),
			Details:   []string{err.Error()},
		})
		return
	}

	resp := healthResponse{
		Status:       report.Status,
		Version:      report.Version,
		CommitSHA:    report.CommitSHA,
		Environment:  report.Environment,
		Uptime:       report.Uptime.Truncate(time.Second).String(),
		Timestamp:    report.GeneratedAt.UTC().Format(time.RFC3339),
		Checks:       make(map[string]checkResult, len(report.Checks)),
		CachedOrders: report.CachedOrders,
	}
	for name, check := range report.Checks {
		resp.Checks[name] = checkResult{Status: check.Status, LatencyMS: check.Latency.Milliseconds(), Error: check.Detail}
		if check.Status != domain.HealthStatusOK {
			resp.Details = append(resp.Details, name+": "+check.Detail)
		}
	}
	sort.Strings(resp.Details)

	status := http.StatusOK
	if report.Status != domain.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, resp)
}
