package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker_CombinesComponents(t *testing.T) {
	h := NewHealthChecker(DefaultHealthCheckerConfig())
	h.Register("archive", func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Message: "ok"}
	})
	h.Register("prices", func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: HealthStatusDegraded, Message: "breaker open"}
	})

	got := h.Check(context.Background())
	assert.Equal(t, HealthStatusDegraded, got.Status)
	assert.False(t, got.IsHealthy())
	require.Len(t, got.Components, 3)
	assert.Equal(t, []string{"archive", "goroutines", "prices"},
		[]string{got.Components[0].Name, got.Components[1].Name, got.Components[2].Name})

	archive, ok := got.Component("archive")
	require.True(t, ok)
	assert.Equal(t, HealthStatusHealthy, archive.Status)
	assert.False(t, archive.LastCheck.IsZero())
}

func TestHealthChecker_PanicIsUnhealthy(t *testing.T) {
	h := NewHealthChecker(DefaultHealthCheckerConfig())
	h.Register("gate", func(ctx context.Context) ComponentHealth {
		panic(errors.New("boom"))
	})

	got := h.Check(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, got.Status)
	gate, ok := got.Component("gate")
	require.True(t, ok)
	assert.Contains(t, gate.Message, "boom")
}

func TestHealthChecker_TimeoutReachesChecks(t *testing.T) {
	h := NewHealthChecker(HealthCheckerConfig{Timeout: 20 * time.Millisecond})
	h.Register("slow", func(ctx context.Context) ComponentHealth {
		<-ctx.Done()
		return ComponentHealth{Status: HealthStatusUnhealthy, Message: ctx.Err().Error()}
	})

	got := h.Check(context.Background())
	slow, _ := got.Component("slow")
	assert.Equal(t, HealthStatusUnhealthy, slow.Status)
	assert.Contains(t, slow.Message, "deadline")
}
