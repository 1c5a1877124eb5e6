// Package healthcheck evaluates the pipeline's runtime dependencies.
package healthcheck

import (
	"context"
	"time"
)

const (
	// StatusOK indicates the check passed.
	StatusOK = "ok"
	// StatusError indicates the check failed.
	StatusError = "error"
)

// CheckResult is one dependency check outcome.
type CheckResult struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Checker evaluates one runtime dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// Report aggregates every check plus the overall verdict.
type Report struct {
	Status string        `json:"status"`
	Checks []CheckResult `json:"checks"`
}

// Run executes all checkers under a shared timeout and aggregates the
// results. The overall status is ok only when every check is ok.
func Run(ctx context.Context, timeout time.Duration, checkers ...Checker) Report {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	report := Report{Status: StatusOK}
	for _, c := range checkers {
		start := time.Now()
		result := CheckResult{Component: c.Name(), Status: StatusOK}
		if err := c.Check(ctx); err != nil {
			result.Status = StatusError
			result.Detail = err.Error()
			report.Status = StatusError
		}
		result.LatencyMS = time.Since(start).Milliseconds()
		report.Checks = append(report.Checks, result)
	}
	return report
}
