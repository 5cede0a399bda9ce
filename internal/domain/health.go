package domain

import "time"

const (
	// HealthStatusOK indicates every checked dependency answered.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates an optional dependency failed but the process keeps serving.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates a dependency the service cannot run without failed its check.
	HealthStatusError = "error"
)

// HealthCheck describes the outcome of one dependency check.
type HealthCheck struct {
	Status    string
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// HealthReport aggregates dependency status for readiness endpoints.
type HealthReport struct {
	Status      string
	Checks      map[string]HealthCheck
	GeneratedAt time.Time
}
