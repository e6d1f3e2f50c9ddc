package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/gourav-1711/jewellery-backend/internal/domain"
)

type stubHealthReporter struct {
	report domain.SystemHealthReport
	err    error
}

func (s stubHealthReporter) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	return s.report, s.err
}

func TestHealthzReportsBuildInfo(t *testing.T) {
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	h := NewHealthHandlers(
		WithHealthBuildInfo(BuildInfo{Version: "1.2.3", CommitSHA: "abc", Environment: "test", StartedAt: started}),
		WithHealthClock(func() time.Time { return started.Add(90 * time.Second) }),
	)
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.Version != "1.2.3" || resp.Uptime != "1m30s" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestReadyzDegraded(t *testing.T) {
	reporter := stubHealthReporter{report: domain.SystemHealthReport{
		Status: domain.HealthStatusDegraded,
		Checks: map[string]domain.SystemHealthCheck{
			"firestore": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond},
			"redis":     {Status: domain.HealthStatusError, Error: "connection refused"},
		},
	}}
	h := NewHealthHandlers(WithHealthReporter(reporter))
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Details) != 1 || resp.Details[0] != "redis: connection refused" {
		t.Fatalf("unexpected details %v", resp.Details)
	}
	if resp.Checks["firestore"].LatencyMS != 12 {
		t.Fatalf("unexpected checks %+v", resp.Checks)
	}
}

func TestReadyzHealthyAndCollectError(t *testing.T) {
	ok := NewHealthHandlers(WithHealthReporter(stubHealthReporter{report: domain.SystemHealthReport{Status: domain.HealthStatusOK}}))
	rec := httptest.NewRecorder()
	ok.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	failing := NewHealthHandlers(WithHealthReporter(stubHealthReporter{err: errors.New("context is required")}))
	rec = httptest.NewRecorder()
	failing.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
