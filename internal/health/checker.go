// Package health runs dependency probes behind the health endpoint:
// transcript storage and the reachable upstream providers.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult holds the result of one probe.
type CheckResult struct {
	Status    Status `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Component is one probed dependency.
type Component struct {
	Name string `json:"name"`
	Type string `json:"type"` // database, upstream
	CheckResult
}

// CheckFunc probes one dependency. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

type namedCheck struct {
	name string
	kind string
	fn   CheckFunc
}

// Checker runs registered probes with a shared per-probe timeout.
type Checker struct {
	mu      sync.Mutex
	timeout time.Duration
	checks  []namedCheck
}

// NewChecker creates a checker. timeout bounds each individual probe.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Checker{timeout: timeout}
}

// Register adds a probe. kind is a coarse label such as "database".
func (c *Checker) Register(name, kind string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, namedCheck{name: name, kind: kind, fn: fn})
}

// CheckAll runs every probe concurrently. The overall status is healthy
// when all pass, degraded when upstreams fail, unhealthy when storage does.
func (c *Checker) CheckAll(ctx context.Context) (Status, []Component) {
	c.mu.Lock()
	checks := make([]namedCheck, len(c.checks))
	copy(checks, c.checks)
	c.mu.Unlock()

	components := make([]Component, len(checks))
	var wg sync.WaitGroup
	for i, chk := range checks {
		wg.Add(1)
		go func(i int, chk namedCheck) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			start := time.Now()
			err := chk.fn(probeCtx)
			result := CheckResult{
				Status:    StatusHealthy,
				LatencyMS: time.Since(start).Milliseconds(),
			}
			if err != nil {
				result.Status = StatusUnhealthy
				result.Error = err.Error()
			}
			components[i] = Component{Name: chk.name, Type: chk.kind, CheckResult: result}
		}(i, chk)
	}
	wg.Wait()

	overall := StatusHealthy
	for _, comp := range components {
		if comp.Status == StatusHealthy {
			continue
		}
		if comp.Type == "database" {
			return StatusUnhealthy, components
		}
		overall = StatusDegraded
	}
	return overall, components
}

// Reachable probes an HTTP base URL. Any response counts as reachable;
// upstream auth failures are a provider concern, not a connectivity one.
func Reachable(client *http.Client, url string) CheckFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("build probe request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("reach %s: %w", url, err)
		}
		resp.Body.Close()
		return nil
	}
}
