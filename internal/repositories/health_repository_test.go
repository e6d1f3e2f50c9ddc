package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/gourav-1711/jewellery-backend/internal/domain"
)

func okCheck(name string) DependencyCheck {
	return DependencyCheck{Name: name, Check: func(context.Context) error { return nil }}
}

func blockingCheck(name string, timeout time.Duration) DependencyCheck {
	return DependencyCheck{
		Name:    name,
		Timeout: timeout,
		Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
}

func TestDependencyHealthRepositoryCollect(t *testing.T) {
	breakerOpen := errors.New("payments.razorpay circuit open")

	cases := []struct {
		name       string
		checks     []DependencyCheck
		wantStatus string
		wantChecks map[string]string
		wantDetail map[string]string
	}{
		{
			name:       "all dependencies up",
			checks:     []DependencyCheck{okCheck("storage"), okCheck("payments")},
			wantStatus: domain.HealthStatusOK,
			wantChecks: map[string]string{"storage": domain.HealthStatusOK, "payments": domain.HealthStatusOK},
		},
		{
			name: "open breaker degrades readiness",
			checks: []DependencyCheck{
				okCheck("firestore"),
				{Name: "payments", Check: func(context.Context) error { return breakerOpen }},
			},
			wantStatus: domain.HealthStatusDegraded,
			wantChecks: map[string]string{"firestore": domain.HealthStatusOK, "payments": domain.HealthStatusDegraded},
			wantDetail: map[string]string{"payments": breakerOpen.Error()},
		},
		{
			name: "timeout outranks degraded",
			checks: []DependencyCheck{
				{Name: "payments", Check: func(context.Context) error { return breakerOpen }},
				blockingCheck("redis", 5*time.Millisecond),
			},
			wantStatus: domain.HealthStatusError,
			wantChecks: map[string]string{"payments": domain.HealthStatusDegraded, "redis": domain.HealthStatusError},
			wantDetail: map[string]string{"redis": "timeout"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			now := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
			repo, err := NewDependencyHealthRepository(tc.checks, WithDependencyClock(func() time.Time { return now }))
			require.NoError(t, err)

			report, err := repo.Collect(context.Background())
			require.NoError(t, err)

			assert.Equal(t, tc.wantStatus, report.Status)
			assert.Equal(t, now, report.GeneratedAt)
			require.Len(t, report.Checks, len(tc.wantChecks))
			for name, status := range tc.wantChecks {
				assert.Equal(t, status, report.Checks[name].Status, name)
				assert.Equal(t, now, report.Checks[name].CheckedAt, name)
			}
			for name, detail := range tc.wantDetail {
				assert.Equal(t, detail, report.Checks[name].Detail, name)
			}
		})
	}
}

func TestDependencyHealthRepositoryDefaultTimeout(t *testing.T) {
	repo, err := NewDependencyHealthRepository(
		[]DependencyCheck{blockingCheck("secretManager", 0)},
		WithDependencyTimeout(5*time.Millisecond),
	)
	require.NoError(t, err)

	report, err := repo.Collect(context.Background())
	require.NoError(t, err)
	check := report.Checks["secretManager"]
	assert.Equal(t, domain.HealthStatusError, check.Status)
	assert.Equal(t, "timeout", check.Detail)
	assert.NotEmpty(t, check.Error)
}

func TestNewDependencyHealthRepositoryValidation(t *testing.T) {
	_, err := NewDependencyHealthRepository(nil)
	assert.Error(t, err, "no checks")

	_, err = NewDependencyHealthRepository([]DependencyCheck{{Check: func(context.Context) error { return nil }}})
	assert.Error(t, err, "unnamed check")

	_, err = NewDependencyHealthRepository([]DependencyCheck{{Name: "storage"}})
	assert.ErrorContains(t, err, "storage")
}
