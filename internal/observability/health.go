package observability

import (
	"context"
	"sync"
	"time"
)

// ComponentStatus is the health status of one component.
type ComponentStatus string

const (
	StatusHealthy   ComponentStatus = "healthy"
	StatusDegraded  ComponentStatus = "degraded"
	StatusUnhealthy ComponentStatus = "unhealthy"
)

// HealthCheck probes one component.
type HealthCheck func(ctx context.Context) ComponentHealth

// ComponentHealth is the report for a single component.
type ComponentHealth struct {
	Name        string          `json:"name"`
	Status      ComponentStatus `json:"status"`
	Message     string          `json:"message,omitempty"`
	LastChecked time.Time       `json:"last_checked"`
}

// SystemHealth is the aggregate health of the process. Status is the
// worst component status.
type SystemHealth struct {
	Status     ComponentStatus            `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Uptime     string                     `json:"uptime"`
	Timestamp  time.Time                  `json:"ts"`
}

// HealthMonitor runs registered checks on demand.
type HealthMonitor struct {
	mu        sync.RWMutex
	checks    map[string]HealthCheck
	startTime time.Time
}

// NewHealthMonitor creates an empty health monitor.
func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{
		checks:    make(map[string]HealthCheck),
		startTime: time.Now(),
	}
}

// Register adds a named health check.
func (m *HealthMonitor) Register(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Check runs all registered checks and aggregates the result. Intended
// for the /health HTTP handler.
func (m *HealthMonitor) Check(ctx context.Context) SystemHealth {
	m.mu.RLock()
	checks := make(map[string]HealthCheck, len(m.checks))
	for name, fn := range m.checks {
		checks[name] = fn
	}
	m.mu.RUnlock()

	components := make(map[string]ComponentHealth, len(checks))
	worst := StatusHealthy

	for name, fn := range checks {
		result := fn(ctx)
		result.Name = name
		result.LastChecked = time.Now()
		components[name] = result
		if severity(result.Status) > severity(worst) {
			worst = result.Status
		}
	}

	return SystemHealth{
		Status:     worst,
		Components: components,
		Uptime:     time.Since(m.startTime).Round(time.Second).String(),
		Timestamp:  time.Now(),
	}
}

func severity(s ComponentStatus) int {
	switch s {
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	default:
		return 0
	}
}
