package pool

import (
	"math"
	"strings"
	"testing"
)

func TestFormatBytes(t *testing.T) {
	cases := []struct {
		n    int64
		want string
	}{
		{-1, "N/A"},
		{0, "0 B"},
		{512, "512 B"},
		{1023, "1023 B"},
		{1024, "1.00 KB"},
		{2048, "2.00 KB"},
		{1536, "1.50 KB"},
		{1048576, "1.00 MB"},
		{1572864, "1.50 MB"},
		{1073741824, "1.00 GB"},
		{3221225472, "3.00 GB"},
	}
	for _, tc := range cases {
		if got := FormatBytes(tc.n); got != tc.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tc.n, got, tc.want)
		}
	}
}

func TestFragmentation(t *testing.T) {
	t.Run("Untouched", func(t *testing.T) {
		var s Statistics
		if got := s.Fragmentation(); got != 0 {
			t.Errorf("Fragmentation = %v with no history, want 0", got)
		}
	})

	t.Run("HalfReturned", func(t *testing.T) {
		s := Statistics{TotalAllocated: 10000, CurrentUsage: 5000, PeakUsage: 10000}
		if got := s.Fragmentation(); math.Abs(got-0.5) > 1e-9 {
			t.Errorf("Fragmentation = %v, want 0.5", got)
		}
	})

	t.Run("FullyUtilized", func(t *testing.T) {
		s := Statistics{TotalAllocated: 10000, CurrentUsage: 10000, PeakUsage: 10000}
		if got := s.Fragmentation(); got != 0 {
			t.Errorf("Fragmentation = %v at peak usage, want 0", got)
		}
	})
}

func TestEffectiveness(t *testing.T) {
	if s := (Statistics{HitRate: 0.85}); !s.Effective() {
		t.Error("hit rate 0.85 should be effective")
	}
	if s := (Statistics{HitRate: 0.65}); s.Effective() {
		t.Error("hit rate 0.65 should not be effective")
	}
	if s := (Statistics{HitRate: 0.85}); s.CacheEfficiency() != 85 {
		t.Errorf("CacheEfficiency = %v, want 85", s.CacheEfficiency())
	}
}

func TestStatisticsString(t *testing.T) {
	s := Statistics{
		TotalAllocated:  4096,
		CurrentUsage:    1024,
		PeakUsage:       4096,
		AllocationCount: 4,
		HitRate:         0.75,
	}
	got := s.String()
	want := "MemoryStats[current=1.00 KB, peak=4.00 KB, allocations=4, hitRate=75.00%, fragmentation=75.00%]"
	if got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestDetailedReport(t *testing.T) {
	s := Statistics{
		TotalAllocated:    8192,
		TotalDeallocated:  4096,
		CurrentUsage:      4096,
		PeakUsage:         8192,
		AllocationCount:   2,
		DeallocationCount: 1,
		CacheHits:         9,
		CacheMisses:       1,
		HitRate:           0.9,
	}
	report := s.DetailedReport()

	for _, line := range []string{
		"=== Memory Pool Statistics ===",
		"Current Usage: 4.00 KB",
		"Peak Usage: 8.00 KB",
		"Hit Rate: 90.00%",
		"Effectiveness: Good",
	} {
		if !strings.Contains(report, line) {
			t.Errorf("report missing %q:\n%s", line, report)
		}
	}

	s.HitRate = 0.5
	if !strings.Contains(s.DetailedReport(), "Effectiveness: Poor") {
		t.Error("low hit rate should report Poor effectiveness")
	}
}
