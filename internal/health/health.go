// Package health provides the health-reporting shapes shared across the
// pipeline's HTTP services.
package health

import (
	"context"
	"time"
)

// Checker reports on the health of one dependency (cache, registry,
// raw server reachability, and so on).
type Checker interface {
	HealthCheck(context.Context) (interface{}, error)
}

// Checkable is implemented by a service's top-level health aggregator.
type Checkable interface {
	Health(context.Context) (Report, error)
}

// Report is the overall health of a service, aggregating one Check per
// registered Checker.
type Report struct {
	Healthy  bool          `json:"healthy"`
	Checks   []Check       `json:"checks,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Check is the result of a single named Checker.
type Check struct {
	Name     string        `json:"name"`
	Healthy  bool          `json:"healthy"`
	Error    string        `json:"error,omitempty"`
	Details  interface{}   `json:"details,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Aggregator runs a fixed set of named checkers and produces a Report.
type Aggregator struct {
	checkers map[string]Checker
}

// NewAggregator builds an Aggregator with no checkers registered yet.
func NewAggregator() *Aggregator {
	return &Aggregator{checkers: make(map[string]Checker)}
}

// Register adds a named checker. Re-registering a name replaces it.
func (a *Aggregator) Register(name string, c Checker) {
	a.checkers[name] = c
}

// Health runs every registered checker and aggregates the result. The
// overall report is healthy iff every check is healthy.
func (a *Aggregator) Health(ctx context.Context) (Report, error) {
	start := time.Now()
	report := Report{Healthy: true}
	for name, checker := range a.checkers {
		checkStart := time.Now()
		details, err := checker.HealthCheck(ctx)
		check := Check{
			Name:     name,
			Healthy:  err == nil,
			Details:  details,
			Duration: time.Since(checkStart),
		}
		if err != nil {
			check.Error = err.Error()
			report.Healthy = false
		}
		report.Checks = append(report.Checks, check)
	}
	report.Duration = time.Since(start)
	return report, nil
}
