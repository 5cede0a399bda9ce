package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/openshop/api/internal/domain"
)

func ok(context.Context) error { return nil }

func TestNewDependencyHealthRepositoryRejectsInvalidChecks(t *testing.T) {
	invalid := map[string][]DependencyCheck{
		"empty":       nil,
		"no function": {{Name: "postgres"}},
		"blank name":  {{Name: " ", Check: ok}},
		"duplicate":   {{Name: "redis", Check: ok}, {Name: "redis", Check: ok}},
	}
	for name, checks := range invalid {
		_, err := NewDependencyHealthRepository(checks)
		require.Error(t, err, name)
	}
}

func TestDependencyHealthRepositoryAllHealthy(t *testing.T) {
	now := time.Date(2025, time.January, 10, 8, 0, 0, 0, time.UTC)
	slow := func(ctx context.Context) error {
		select {
		case <-time.After(5 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	repo, err := NewDependencyHealthRepository(
		[]DependencyCheck{{Name: "postgres", Critical: true, Check: slow}, {Name: "redis", Check: ok}},
		WithDependencyClock(func() time.Time { return now }),
	)
	require.NoError(t, err)

	report, err := repo.Collect(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.HealthStatusOK, report.Status)
	require.Len(t, report.Checks, 2)
	for name, check := range report.Checks {
		require.Equal(t, domain.HealthStatusOK, check.Status, name)
		require.True(t, check.CheckedAt.Equal(now), name)
	}
	require.True(t, report.GeneratedAt.Equal(now))
}

func TestDependencyHealthRepositoryOptionalFailureDegrades(t *testing.T) {
	broken := errors.New("connection refused")
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "rabbitmq", Check: func(context.Context) error { return broken }},
		{Name: "postgres", Critical: true, Check: ok},
	})
	require.NoError(t, err)

	report, err := repo.Collect(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.HealthStatusDegraded, report.Status)
	require.Equal(t, domain.HealthStatusDegraded, report.Checks["rabbitmq"].Status)
	require.Equal(t, broken.Error(), report.Checks["rabbitmq"].Detail)
	require.Equal(t, domain.HealthStatusOK, report.Checks["postgres"].Status)
}

func TestDependencyHealthRepositoryCriticalFailureIsError(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "rabbitmq", Check: func(context.Context) error { return errors.New("closed") }},
		{Name: "postgres", Critical: true, Check: func(context.Context) error { return errors.New("too many clients") }},
	})
	require.NoError(t, err)

	report, err := repo.Collect(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.HealthStatusError, report.Status)
	require.Equal(t, domain.HealthStatusError, report.Checks["postgres"].Status)
}

func TestDependencyHealthRepositoryTimeout(t *testing.T) {
	hang := func(ctx context.Context) error {
		select {
		case <-time.After(200 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Critical: true, Timeout: 5 * time.Millisecond, Check: hang},
		{Name: "pubsub", Check: hang},
	}, WithDependencyTimeout(5*time.Millisecond))
	require.NoError(t, err)

	report, err := repo.Collect(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.HealthStatusError, report.Status)
	require.Equal(t, "timeout", report.Checks["firestore"].Detail)
	require.Equal(t, domain.HealthStatusDegraded, report.Checks["pubsub"].Status)
	require.Equal(t, "timeout", report.Checks["pubsub"].Detail)
}

func TestWorse(t *testing.T) {
	require.Equal(t, domain.HealthStatusDegraded, worse(domain.HealthStatusOK, domain.HealthStatusDegraded))
	require.Equal(t, domain.HealthStatusError, worse(domain.HealthStatusError, domain.HealthStatusDegraded))
	require.Equal(t, domain.HealthStatusOK, worse(domain.HealthStatusOK, ""))
}
