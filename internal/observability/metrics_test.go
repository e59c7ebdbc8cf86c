package observability

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounter(t *testing.T) {
	r := NewRegistry()
	c := r.NewCounter("test_total", "help")
	c.Inc()
	c.Add(5)
	c.Add(-3) // ignored
	assert.Equal(t, int64(6), c.Value())

	// Re-registration returns the same counter.
	assert.Same(t, c, r.NewCounter("test_total", "other"))
}

func TestCounterConcurrent(t *testing.T) {
	r := NewRegistry()
	c := r.NewCounter("concurrent_total", "")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Inc()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1000), c.Value())
}

func TestGauge(t *testing.T) {
	r := NewRegistry()
	g := r.NewGauge("test_gauge", "help")
	g.Set(3.5)
	assert.Equal(t, 3.5, g.Value())
	g.Set(-1)
	assert.Equal(t, float64(-1), g.Value())
}

func TestHistogram(t *testing.T) {
	r := NewRegistry()
	h := r.NewHistogram("delay_seconds", "help", []float64{10, 30, 60})

	h.Observe(5)
	h.Observe(25)
	h.Observe(90)

	bounds, counts, sum, samples := h.Snapshot()
	assert.Equal(t, []float64{10, 30, 60}, bounds)
	assert.Equal(t, []int64{1, 2, 2}, counts)
	assert.Equal(t, float64(120), sum)
	assert.Equal(t, int64(3), samples)
}

func TestPrometheusFormat(t *testing.T) {
	r := NewRegistry()
	r.NewCounter("pools_total", "Pools seen").Add(7)
	r.NewGauge("active", "In flight").Set(2)
	h := r.NewHistogram("delay_seconds", "Delay", []float64{10, 30})
	h.Observe(20)

	out := NewPrometheusExporter(r).Format()

	assert.Contains(t, out, "# TYPE pools_total counter")
	assert.Contains(t, out, "pools_total 7")
	assert.Contains(t, out, "# TYPE active gauge")
	assert.Contains(t, out, "active 2")
	assert.Contains(t, out, `delay_seconds_bucket{le="10"} 0`)
	assert.Contains(t, out, `delay_seconds_bucket{le="30"} 1`)
	assert.Contains(t, out, `delay_seconds_bucket{le="+Inf"} 1`)
	assert.Contains(t, out, "delay_seconds_count 1")

	// Counters come before gauges, names sorted within each type.
	assert.Less(t, strings.Index(out, "pools_total"), strings.Index(out, "active gauge"))
}

func TestWatcherMetricsPreset(t *testing.T) {
	r := WatcherMetrics()
	require.NotNil(t, r.GetCounter("poolwatch_pools_detected_total"))
	require.NotNil(t, r.GetCounter("poolwatch_fundings_total"))
	require.NotNil(t, r.GetGauge("poolwatch_pipelines_active"))
}

func TestHealthMonitor(t *testing.T) {
	m := NewHealthMonitor()
	m.Register("good", func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusHealthy}
	})
	m.Register("bad", func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusUnhealthy, Message: "rpc down"}
	})

	health := m.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, health.Status)
	assert.Len(t, health.Components, 2)
	assert.Equal(t, "rpc down", health.Components["bad"].Message)
	assert.False(t, health.Components["good"].LastChecked.IsZero())
}

func TestHealthMonitorAllHealthy(t *testing.T) {
	m := NewHealthMonitor()
	m.Register("a", func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusHealthy}
	})
	health := m.Check(context.Background())
	assert.Equal(t, StatusHealthy, health.Status)
}
