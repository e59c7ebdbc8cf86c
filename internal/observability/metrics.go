// Package observability provides the in-process metric registry, its
// Prometheus text exporter and the component health monitor.
package observability

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
)

// Counter is a monotonically increasing metric. Lock-free.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	c.value.Add(1)
}

// Add increments the counter by delta. Negative deltas are ignored.
func (c *Counter) Add(delta int64) {
	if delta < 0 {
		return
	}
	c.value.Add(delta)
}

// Set overwrites the counter. Used when mirroring component-owned
// counters into the registry; the source is itself monotonic.
func (c *Counter) Set(v int64) {
	c.value.Store(v)
}

// Value returns the current counter value.
func (c *Counter) Value() int64 {
	return c.value.Load()
}

// Gauge is a metric that can go up and down. Lock-free via float bits.
type Gauge struct {
	name string
	help string
	bits atomic.Uint64
}

// Set sets the gauge to v.
func (g *Gauge) Set(v float64) {
	g.bits.Store(math.Float64bits(v))
}

// Value returns the current gauge value.
func (g *Gauge) Value() float64 {
	return math.Float64frombits(g.bits.Load())
}

// Histogram tracks a value distribution with cumulative buckets.
type Histogram struct {
	name    string
	help    string
	mu      sync.Mutex
	bounds  []float64
	counts  []int64
	sum     float64
	samples int64
}

// Observe records one value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.samples++
	for i, bound := range h.bounds {
		if v <= bound {
			h.counts[i]++
		}
	}
}

// Snapshot returns bucket bounds, cumulative counts, sum and sample count.
func (h *Histogram) Snapshot() (bounds []float64, counts []int64, sum float64, samples int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	bounds = append([]float64(nil), h.bounds...)
	counts = append([]int64(nil), h.counts...)
	return bounds, counts, h.sum, h.samples
}

// Registry holds all metrics of the process. Safe for concurrent use.
// Re-registering a name returns the existing metric.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

// NewCounter registers and returns a counter.
func (r *Registry) NewCounter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.counters[name]; ok {
		return existing
	}
	c := &Counter{name: name, help: help}
	r.counters[name] = c
	return c
}

// NewGauge registers and returns a gauge.
func (r *Registry) NewGauge(name, help string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.gauges[name]; ok {
		return existing
	}
	g := &Gauge{name: name, help: help}
	r.gauges[name] = g
	return g
}

// NewHistogram registers and returns a histogram with the given bucket
// upper bounds.
func (r *Registry) NewHistogram(name, help string, bounds []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.histograms[name]; ok {
		return existing
	}
	sorted := append([]float64(nil), bounds...)
	sort.Float64s(sorted)
	h := &Histogram{
		name:   name,
		help:   help,
		bounds: sorted,
		counts: make([]int64, len(sorted)),
	}
	r.histograms[name] = h
	return h
}

// GetCounter returns a registered counter or nil.
func (r *Registry) GetCounter(name string) *Counter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counters[name]
}

// GetGauge returns a registered gauge or nil.
func (r *Registry) GetGauge(name string) *Gauge {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gauges[name]
}

// SecondsToListBuckets bracket the observed UI indexing delays, in
// seconds. Most pools land between half a minute and three minutes.
var SecondsToListBuckets = []float64{10, 20, 30, 60, 90, 120, 180, 240, 300}

// WatcherMetrics builds the registry with the standard poolwatch
// metric set. Components own their atomic counters; the stats loop
// mirrors them into this registry for scraping.
func WatcherMetrics() *Registry {
	r := NewRegistry()

	r.NewCounter("poolwatch_ws_events_total", "Log events received from the subscription")
	r.NewCounter("poolwatch_ws_reconnects_total", "WebSocket reconnect attempts")
	r.NewCounter("poolwatch_pools_detected_total", "Pool creation events decoded")
	r.NewCounter("poolwatch_pipelines_total", "Pipelines started")
	r.NewCounter("poolwatch_pipelines_duplicate_total", "Events dropped by the single-flight guard")
	r.NewCounter("poolwatch_fundings_total", "Liquidity deposits confirmed")
	r.NewCounter("poolwatch_fundings_skipped_total", "Pools skipped for lack of balance")
	r.NewCounter("poolwatch_fundings_failed_total", "Deposit submissions or confirmations failed")
	r.NewCounter("poolwatch_listings_confirmed_total", "Pools confirmed visible on a UI surface")
	r.NewCounter("poolwatch_listings_timeout_total", "Pools that never became visible in budget")

	r.NewGauge("poolwatch_pipelines_active", "Pipelines currently in flight")

	r.NewHistogram("poolwatch_seconds_to_list", "Delay between creation and UI visibility in seconds",
		SecondsToListBuckets)

	return r
}
