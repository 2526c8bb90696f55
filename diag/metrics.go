package diag

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/orizon-lang/tiermem/alloc"
	"github.com/orizon-lang/tiermem/bridge"
)

// MetricFunc returns a snapshot of metric name -> value. Names should stay
// within [a-zA-Z0-9_:]; anything else is sanitized at exposition time.
type MetricFunc func() map[string]float64

// StartMetricsServer serves all collectors as plain-text "name value" lines
// under /metrics on addr. Collector and metric names are emitted in sorted
// order so scrapes are deterministic. Returns the bound address (addr may
// use port 0) and a shutdown function.
func StartMetricsServer(addr string, collectors map[string]MetricFunc) (string, func(ctx context.Context) error, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		names := make([]string, 0, len(collectors))
		for name := range collectors {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fn := collectors[name]
			if fn == nil {
				continue
			}
			snapshot := fn()
			keys := make([]string, 0, len(snapshot))
			for k := range snapshot {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(w, "%s %g\n", sanitizeMetricToken(name+"_"+k), snapshot[k])
			}
		}
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, err
	}
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 3 * time.Second}
	go func() { _ = server.Serve(ln) }()
	return ln.Addr().String(), server.Shutdown, nil
}

// sanitizeMetricToken maps a name onto the [a-zA-Z0-9_:] exposition alphabet.
func sanitizeMetricToken(s string) string {
	b := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == ':' {
			b[i] = c
		} else {
			b[i] = '_'
		}
	}
	if len(b) > 0 && b[0] >= '0' && b[0] <= '9' {
		return "_" + string(b)
	}
	return strings.ReplaceAll(string(b), "__", "_")
}

// PoolCollector exposes the pool's aggregate counters. An uninitialized
// bridge exposes nothing rather than zeros, so gaps are visible to scrapers.
func PoolCollector(b *bridge.Bridge) MetricFunc {
	return func() map[string]float64 {
		stats, err := b.Statistics()
		if err != nil {
			return nil
		}
		return map[string]float64{
			"current_usage_bytes": float64(stats.CurrentUsage),
			"peak_usage_bytes":    float64(stats.PeakUsage),
			"allocations_total":   float64(stats.AllocationCount),
			"deallocations_total": float64(stats.DeallocationCount),
			"cache_hits_total":    float64(stats.CacheHits),
			"cache_misses_total":  float64(stats.CacheMisses),
			"hit_rate":            stats.HitRate,
			"small_hits_total":    float64(stats.SmallPoolHits),
			"medium_hits_total":   float64(stats.MediumPoolHits),
			"large_hits_total":    float64(stats.LargePoolHits),
			"direct_allocs_total": float64(stats.DirectAllocations),
			"fragmentation_ratio": stats.Fragmentation(),
		}
	}
}

// TrackerCollector exposes the ledger counters.
func TrackerCollector(b *bridge.Bridge) MetricFunc {
	return func() map[string]float64 {
		stats, err := b.TrackerStatistics()
		if err != nil {
			return nil
		}
		return map[string]float64{
			"allocations_total":   float64(stats.TotalAllocations),
			"deallocations_total": float64(stats.TotalDeallocations),
			"current_bytes":       float64(stats.CurrentAllocated),
			"peak_bytes":          float64(stats.PeakAllocated),
		}
	}
}

// AllocatorCollector exposes the process-wide aligned allocator counters.
func AllocatorCollector() MetricFunc {
	return func() map[string]float64 {
		return map[string]float64{
			"allocated_bytes_total":   float64(alloc.TotalAllocated()),
			"deallocated_bytes_total": float64(alloc.TotalDeallocated()),
			"peak_bytes":              float64(alloc.PeakAllocated()),
			"live_allocations":        float64(alloc.AllocationCount()),
		}
	}
}

// DefaultCollectors wires the three standard collectors for b.
func DefaultCollectors(b *bridge.Bridge) map[string]MetricFunc {
	return map[string]MetricFunc{
		"tiermem_pool":    PoolCollector(b),
		"tiermem_tracker": TrackerCollector(b),
		"tiermem_alloc":   AllocatorCollector(),
	}
}
