package resilience

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusDegraded  HealthStatus = "DEGRADED"
	HealthStatusUnhealthy HealthStatus = "UNHEALTHY"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Name      string         `json:"name"`
	Status    HealthStatus   `json:"status"`
	Message   string         `json:"message"`
	LastCheck time.Time      `json:"last_check"`
	Latency   time.Duration  `json:"latency"`
	Details   map[string]any `json:"details,omitempty"`
}

// HealthCheck probes one component. Name, LastCheck and Latency are filled in
// by the checker.
type HealthCheck func(ctx context.Context) ComponentHealth

// HealthChecker runs registered checks on demand.
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]HealthCheck
	timeout    time.Duration

	goroutineThreshold int
}

// HealthCheckerConfig holds health checker configuration.
type HealthCheckerConfig struct {
	Timeout            time.Duration
	GoroutineThreshold int
}

// DefaultHealthCheckerConfig returns default configuration.
func DefaultHealthCheckerConfig() HealthCheckerConfig {
	return HealthCheckerConfig{
		Timeout:            10 * time.Second,
		GoroutineThreshold: 1000,
	}
}

// NewHealthChecker creates a new health checker.
func NewHealthChecker(config HealthCheckerConfig) *HealthChecker {
	return &HealthChecker{
		components:         make(map[string]HealthCheck),
		timeout:            config.Timeout,
		goroutineThreshold: config.GoroutineThreshold,
	}
}

// Register registers a health check for a component.
func (h *HealthChecker) Register(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components[name] = check
}

// Check runs every registered check concurrently, plus a goroutine count
// check, and returns the combined result. A panicking check is unhealthy.
func (h *HealthChecker) Check(ctx context.Context) SystemHealth {
	h.mu.RLock()
	components := make(map[string]HealthCheck, len(h.components))
	for k, v := range h.components {
		components[k] = v
	}
	h.mu.RUnlock()

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	var wg sync.WaitGroup
	results := make(chan ComponentHealth, len(components)+1)

	for name, check := range components {
		wg.Add(1)
		go func(n string, c HealthCheck) {
			defer wg.Done()
			start := time.Now()
			health := runCheck(ctx, n, c)
			health.Name = n
			health.LastCheck = time.Now()
			health.Latency = time.Since(start)
			results <- health
		}(name, check)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		results <- h.checkGoroutines()
	}()

	wg.Wait()
	close(results)

	out := SystemHealth{Status: HealthStatusHealthy, CheckedAt: time.Now()}
	for health := range results {
		out.Components = append(out.Components, health)
		out.Status = worse(out.Status, health.Status)
	}
	slices.SortFunc(out.Components, func(a, b ComponentHealth) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

func runCheck(ctx context.Context, name string, check HealthCheck) (health ComponentHealth) {
	defer func() {
		if r := recover(); r != nil {
			health = ComponentHealth{
				Status:  HealthStatusUnhealthy,
				Message: fmt.Sprintf("Panic recovered: %v", r),
			}
		}
	}()
	health = check(ctx)
	if health.Status == "" {
		health.Status = HealthStatusHealthy
	}
	return health
}

func (h *HealthChecker) checkGoroutines() ComponentHealth {
	numGoroutines := runtime.NumGoroutine()

	health := ComponentHealth{
		Name:      "goroutines",
		LastCheck: time.Now(),
		Details: map[string]any{
			"count": numGoroutines,
		},
	}

	if h.goroutineThreshold > 0 && numGoroutines > h.goroutineThreshold {
		health.Status = HealthStatusDegraded
		health.Message = fmt.Sprintf("High goroutine count: %d", numGoroutines)
	} else {
		health.Status = HealthStatusHealthy
		health.Message = fmt.Sprintf("Goroutine count: %d", numGoroutines)
	}

	return health
}

func worse(a, b HealthStatus) HealthStatus {
	rank := map[HealthStatus]int{HealthStatusHealthy: 0, HealthStatusDegraded: 1, HealthStatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// SystemHealth is the result of one health check run.
type SystemHealth struct {
	Status     HealthStatus      `json:"status"`
	CheckedAt  time.Time         `json:"checked_at"`
	Components []ComponentHealth `json:"components"`
}

// Component returns the named component's result.
func (s SystemHealth) Component(name string) (ComponentHealth, bool) {
	for _, c := range s.Components {
		if c.Name == name {
			return c, true
		}
	}
	return ComponentHealth{}, false
}

// IsHealthy returns true if every component is healthy.
func (s SystemHealth) IsHealthy() bool {
	return s.Status == HealthStatusHealthy
}
