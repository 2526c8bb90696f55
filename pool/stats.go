package pool

import (
	"fmt"
	"strings"
)

// Statistics is an aggregate snapshot of pool activity. Counters are plain
// totals; HitRate is derived when the snapshot is taken. Snapshots are
// eventually consistent with respect to in-flight operations, never
// transactional.
type Statistics struct {
	TotalAllocated    uint64  `json:"total_allocated"`
	TotalDeallocated  uint64  `json:"total_deallocated"`
	CurrentUsage      uint64  `json:"current_usage"`
	PeakUsage         uint64  `json:"peak_usage"`
	AllocationCount   uint64  `json:"allocation_count"`
	DeallocationCount uint64  `json:"deallocation_count"`
	CacheHits         uint64  `json:"cache_hits"`
	CacheMisses       uint64  `json:"cache_misses"`
	HitRate           float64 `json:"hit_rate"`
	SmallPoolHits     uint64  `json:"small_pool_hits"`
	MediumPoolHits    uint64  `json:"medium_pool_hits"`
	LargePoolHits     uint64  `json:"large_pool_hits"`
	DirectAllocations uint64  `json:"direct_allocations"`
}

// CacheEfficiency returns the hit rate as a percentage.
func (s Statistics) CacheEfficiency() float64 {
	return s.HitRate * 100
}

// Effective reports whether the pool is absorbing most of the allocation
// traffic, using a 70% hit-rate threshold.
func (s Statistics) Effective() bool {
	return s.HitRate > 0.7
}

// Fragmentation estimates how far current usage has fallen from its peak:
// 0 means fully utilized, approaching 1 means nearly everything was
// returned. Zero when nothing was ever allocated.
func (s Statistics) Fragmentation() float64 {
	if s.TotalAllocated == 0 {
		return 0
	}
	return 1 - float64(s.CurrentUsage)/float64(s.PeakUsage)
}

// String renders the compact one-line summary used in logs.
func (s Statistics) String() string {
	return fmt.Sprintf("MemoryStats[current=%s, peak=%s, allocations=%d, hitRate=%.2f%%, fragmentation=%.2f%%]",
		FormatBytes(int64(s.CurrentUsage)),
		FormatBytes(int64(s.PeakUsage)),
		s.AllocationCount,
		s.HitRate*100,
		s.Fragmentation()*100,
	)
}

// DetailedReport renders the full multi-line statistics block.
func (s Statistics) DetailedReport() string {
	var b strings.Builder
	b.WriteString("=== Memory Pool Statistics ===\n")
	fmt.Fprintf(&b, "Current Usage: %s\n", FormatBytes(int64(s.CurrentUsage)))
	fmt.Fprintf(&b, "Peak Usage: %s\n", FormatBytes(int64(s.PeakUsage)))
	fmt.Fprintf(&b, "Total Allocated: %s\n", FormatBytes(int64(s.TotalAllocated)))
	fmt.Fprintf(&b, "Total Deallocated: %s\n", FormatBytes(int64(s.TotalDeallocated)))
	fmt.Fprintf(&b, "Allocations: %d\n", s.AllocationCount)
	fmt.Fprintf(&b, "Deallocations: %d\n", s.DeallocationCount)
	fmt.Fprintf(&b, "Cache Hits: %d\n", s.CacheHits)
	fmt.Fprintf(&b, "Cache Misses: %d\n", s.CacheMisses)
	fmt.Fprintf(&b, "Hit Rate: %.2f%%\n", s.HitRate*100)
	fmt.Fprintf(&b, "Fragmentation: %.2f%%\n", s.Fragmentation()*100)
	effectiveness := "Poor"
	if s.Effective() {
		effectiveness = "Good"
	}
	fmt.Fprintf(&b, "Effectiveness: %s\n", effectiveness)
	return b.String()
}

// FormatBytes renders a byte count in human-readable units. Negative counts
// render as "N/A".
func FormatBytes(n int64) string {
	switch {
	case n < 0:
		return "N/A"
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.2f KB", float64(n)/1024)
	case n < 1024*1024*1024:
		return fmt.Sprintf("%.2f MB", float64(n)/(1024*1024))
	default:
		return fmt.Sprintf("%.2f GB", float64(n)/(1024*1024*1024))
	}
}
