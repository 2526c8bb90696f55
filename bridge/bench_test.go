package bridge

import (
	"io"
	"log/slog"
	"runtime"
	"testing"

	"github.com/orizon-lang/tiermem/alloc"
	"github.com/orizon-lang/tiermem/pool"
)

func benchBridge(b *testing.B) *Bridge {
	b.Helper()
	br := New(WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err := br.Initialize(pool.DefaultConfig()); err != nil {
		b.Fatalf("Initialize failed: %v", err)
	}
	b.Cleanup(func() { _ = br.Close() })
	return br
}

func goHeapUsage() (heap, sys uint64) {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	return m.Alloc, m.Sys
}

// Pooled and direct allocation side by side; the pooled path should win on
// tier-sized requests.
func BenchmarkBridgePooled(b *testing.B) {
	br := benchBridge(b)
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		buf, err := br.Allocate(4096)
		if err != nil {
			b.Fatal(err)
		}
		buf.Bytes()[0] = byte(i)
		_ = br.Deallocate(buf)
	}
}

func BenchmarkBridgeDirect(b *testing.B) {
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		ptr := alloc.Allocate(4096, 64)
		if ptr == nil {
			b.Fatal("allocation failed")
		}
		alloc.Deallocate(ptr)
	}
}

func BenchmarkBridgeSizes(b *testing.B) {
	br := benchBridge(b)
	sizes := []struct {
		name string
		n    uintptr
	}{
		{"Small4K", 4096},
		{"Medium32K", 32 * 1024},
		{"Large512K", 512 * 1024},
		{"Direct2M", 2 * 1024 * 1024},
	}
	for _, tc := range sizes {
		b.Run(tc.name, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				buf, err := br.Allocate(tc.n)
				if err != nil {
					b.Fatal(err)
				}
				_ = br.Deallocate(buf)
			}
		})
	}
}

func BenchmarkBridgeConcurrent(b *testing.B) {
	br := benchBridge(b)
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			buf, err := br.Allocate(8192)
			if err != nil {
				b.Fatal(err)
			}
			_ = br.Deallocate(buf)
		}
	})
}

// Sustained traffic must neither grow the pool's accounting nor leak Go heap:
// the payload memory lives outside the Go heap entirely, so thousands of
// cycles should leave MemStats nearly flat.
func TestSustainedUsageStable(t *testing.T) {
	br := New(WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err := br.Initialize(pool.DefaultConfig()); err != nil {
		t.Fatal(err)
	}
	defer br.Close()

	initialHeap, _ := goHeapUsage()

	sizes := []uintptr{256, 4096, 32 * 1024, 512 * 1024}
	for cycle := 0; cycle < 1000; cycle++ {
		size := sizes[cycle%len(sizes)]
		buf, err := br.Allocate(size)
		if err != nil {
			t.Fatalf("cycle %d: %v", cycle, err)
		}
		data := buf.Bytes()
		data[0] = byte(cycle)
		data[len(data)-1] = byte(cycle >> 8)
		if err := br.Deallocate(buf); err != nil {
			t.Fatalf("cycle %d: %v", cycle, err)
		}
	}

	stats, err := br.Statistics()
	if err != nil {
		t.Fatal(err)
	}
	if stats.CurrentUsage != 0 {
		t.Errorf("CurrentUsage = %d after balanced cycles, want 0", stats.CurrentUsage)
	}
	if stats.AllocationCount != 1000 || stats.DeallocationCount != 1000 {
		t.Errorf("counts = %d/%d, want 1000/1000",
			stats.AllocationCount, stats.DeallocationCount)
	}
	if br.DetectLeaks() {
		t.Error("ledger reports leaks after balanced cycles")
	}

	finalHeap, _ := goHeapUsage()
	const heapSlack = 8 << 20
	if finalHeap > initialHeap+heapSlack {
		t.Errorf("Go heap grew from %d to %d over balanced cycles", initialHeap, finalHeap)
	}
}
