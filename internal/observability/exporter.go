package observability

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// PrometheusExporter serves the registry in Prometheus text exposition
// format (version 0.0.4).
type PrometheusExporter struct {
	registry *Registry
}

// NewPrometheusExporter creates an exporter backed by the registry.
func NewPrometheusExporter(registry *Registry) *PrometheusExporter {
	return &PrometheusExporter{registry: registry}
}

// ServeHTTP implements http.Handler for the /metrics endpoint.
func (e *PrometheusExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(e.Format()))
}

// Format renders every registered metric in exposition format, names
// sorted for deterministic output.
func (e *PrometheusExporter) Format() string {
	var b strings.Builder

	e.registry.mu.RLock()
	defer e.registry.mu.RUnlock()

	for _, name := range sortedKeys(e.registry.counters) {
		c := e.registry.counters[name]
		fmt.Fprintf(&b, "# HELP %s %s\n", c.name, c.help)
		fmt.Fprintf(&b, "# TYPE %s counter\n", c.name)
		fmt.Fprintf(&b, "%s %d\n\n", c.name, c.Value())
	}

	for _, name := range sortedKeys(e.registry.gauges) {
		g := e.registry.gauges[name]
		fmt.Fprintf(&b, "# HELP %s %s\n", g.name, g.help)
		fmt.Fprintf(&b, "# TYPE %s gauge\n", g.name)
		fmt.Fprintf(&b, "%s %g\n\n", g.name, g.Value())
	}

	for _, name := range sortedKeys(e.registry.histograms) {
		h := e.registry.histograms[name]
		bounds, counts, sum, samples := h.Snapshot()
		fmt.Fprintf(&b, "# HELP %s %s\n", h.name, h.help)
		fmt.Fprintf(&b, "# TYPE %s histogram\n", h.name)
		for i, bound := range bounds {
			fmt.Fprintf(&b, "%s_bucket{le=%q} %d\n", h.name, fmt.Sprintf("%g", bound), counts[i])
		}
		fmt.Fprintf(&b, "%s_bucket{le=\"+Inf\"} %d\n", h.name, samples)
		fmt.Fprintf(&b, "%s_sum %g\n", h.name, sum)
		fmt.Fprintf(&b, "%s_count %d\n\n", h.name, samples)
	}

	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
