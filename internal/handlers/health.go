package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	domain "github.com/gourav-1711/jewellery-backend/internal/domain"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// HealthReporter probes dependencies. repositories.HealthRepository satisfies it.
type HealthReporter interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	build    BuildInfo
	clock    func() time.Time
	reporter HealthReporter
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthBuildInfo sets the version details echoed by both probes.
func WithHealthBuildInfo(info BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthClock overrides the clock for tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithHealthReporter enables dependency checks on /readyz.
func WithHealthReporter(reporter HealthReporter) HealthOption {
	return func(h *HealthHandlers) {
		h.reporter = reporter
	}
}

// NewHealthHandlers constructs the probe handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

type healthResponse struct {
	Status      string                 `json:"status"`
	Version     string                 `json:"version,omitempty"`
	CommitSHA   string                 `json:"commitSha,omitempty"`
	Environment string                 `json:"environment,omitempty"`
	Uptime      string                 `json:"uptime"`
	Timestamp   string                 `json:"timestamp"`
	Checks      map[string]checkResult `json:"checks,omitempty"`
	Details     []string               `json:"details,omitempty"`
}

type checkResult struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

// Healthz reports process liveness without touching dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, h.base(domain.HealthStatusOK))
}

// Readyz probes dependencies and answers 503 unless every check passes.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.reporter == nil {
		writeJSONResponse(w, http.StatusOK, h.base(domain.HealthStatusOK))
		return
	}

	report, err := h.reporter.Collect(r.Context())
	if err != nil {
		resp := h.base(domain.HealthStatusError)
		resp.Details = []string{err.Error()}
		writeJSONResponse(w, http.StatusServiceUnavailable, resp)
		return
	}

	status := report.Status
	if status == "" {
		status = domain.HealthStatusOK
	}
	resp := h.base(status)
	resp.Checks = make(map[string]checkResult, len(report.Checks))
	for name, check := range report.Checks {
		resp.Checks[name] = checkResult{
			Status:    check.Status,
			Detail:    check.Detail,
			Error:     check.Error,
			LatencyMS: check.Latency.Milliseconds(),
		}
		if check.Status != domain.HealthStatusOK && check.Error != "" {
			resp.Details = append(resp.Details, fmt.Sprintf("%s: %s", name, check.Error))
		}
	}
	sort.Strings(resp.Details)

	code := http.StatusOK
	if status != domain.HealthStatusOK {
		code = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, code, resp)
}

func (h *HealthHandlers) base(status string) healthResponse {
	now := h.clock()
	return healthResponse{
		Status:      status,
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).Truncate(time.Second).String(),
		Timestamp:   now.UTC().Format(time.RFC3339),
	}
}
