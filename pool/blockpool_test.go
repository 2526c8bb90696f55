package pool

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"unsafe"

	"github.com/orizon-lang/tiermem/alloc"
)

func TestBlockPoolAcquireRelease(t *testing.T) {
	p := NewBlockPool(4096, 4, 64, false, nil)
	defer p.Destroy()

	if got := p.FreeCount(); got != 4 {
		t.Fatalf("FreeCount = %d after construction, want 4", got)
	}
	if got := p.BlockCount(); got != 4 {
		t.Fatalf("BlockCount = %d after construction, want 4", got)
	}

	ptr := p.Acquire()
	if ptr == nil {
		t.Fatal("Acquire returned nil with free blocks available")
	}
	if got := p.FreeCount(); got != 3 {
		t.Errorf("FreeCount = %d after acquire, want 3", got)
	}
	if !p.Owns(ptr) {
		t.Error("pool does not own the block it just issued")
	}

	data := unsafe.Slice((*byte)(ptr), 4096)
	for i := range data {
		data[i] = byte(i % 256)
	}
	for i := range data {
		if data[i] != byte(i%256) {
			t.Errorf("block corruption at offset %d", i)
			break
		}
	}

	p.Release(ptr)
	if got := p.FreeCount(); got != 4 {
		t.Errorf("FreeCount = %d after release, want 4", got)
	}
}

func TestBlockPoolExhaustion(t *testing.T) {
	p := NewBlockPool(1024, 2, 64, false, nil)
	defer p.Destroy()

	a := p.Acquire()
	b := p.Acquire()
	if a == nil || b == nil {
		t.Fatal("failed to drain the pool")
	}
	if c := p.Acquire(); c != nil {
		t.Errorf("exhausted pool with expansion disabled returned %p, want nil", c)
	}

	p.Release(a)
	if c := p.Acquire(); c == nil {
		t.Error("pool did not recover after a release")
	} else {
		p.Release(c)
	}
	p.Release(b)
}

func TestBlockPoolExpansion(t *testing.T) {
	p := NewBlockPool(1024, 8, 64, true, nil)
	defer p.Destroy()

	ptrs := make([]unsafe.Pointer, 0, 9)
	for i := 0; i < 8; i++ {
		ptr := p.Acquire()
		if ptr == nil {
			t.Fatalf("acquire %d failed", i)
		}
		ptrs = append(ptrs, ptr)
	}

	// Quarter growth on an 8-block pool adds 2 blocks.
	ptr := p.Acquire()
	if ptr == nil {
		t.Fatal("expansion did not produce a block")
	}
	ptrs = append(ptrs, ptr)
	if got := p.BlockCount(); got != 10 {
		t.Errorf("BlockCount = %d after expansion, want 10", got)
	}

	for _, ptr := range ptrs {
		p.Release(ptr)
	}
}

func TestBlockPoolMinimumGrowth(t *testing.T) {
	// A pool too small for a meaningful quarter still grows by one block.
	p := NewBlockPool(1024, 1, 64, true, nil)
	defer p.Destroy()

	a := p.Acquire()
	b := p.Acquire()
	if a == nil || b == nil {
		t.Fatal("minimum growth did not produce a block")
	}
	if got := p.BlockCount(); got != 2 {
		t.Errorf("BlockCount = %d, want 2", got)
	}
	p.Release(a)
	p.Release(b)
}

func TestBlockPoolDoubleRelease(t *testing.T) {
	var logbuf bytes.Buffer
	p := NewBlockPool(1024, 2, 64, false, slog.New(slog.NewTextHandler(&logbuf, nil)))
	defer p.Destroy()

	ptr := p.Acquire()
	p.Release(ptr)
	before := p.FreeCount()

	p.Release(ptr)

	if got := p.FreeCount(); got != before {
		t.Errorf("double release changed FreeCount: %d -> %d", before, got)
	}
	if !strings.Contains(logbuf.String(), "double release") {
		t.Errorf("expected a double release warning, log: %q", logbuf.String())
	}
}

func TestBlockPoolForeignPointer(t *testing.T) {
	var logbuf bytes.Buffer
	p := NewBlockPool(1024, 2, 64, false, slog.New(slog.NewTextHandler(&logbuf, nil)))
	defer p.Destroy()

	var local byte
	foreign := unsafe.Pointer(&local)

	if p.Owns(foreign) {
		t.Error("pool claims ownership of a foreign pointer")
	}
	before := p.FreeCount()
	p.Release(foreign)
	if got := p.FreeCount(); got != before {
		t.Errorf("foreign release changed FreeCount: %d -> %d", before, got)
	}
	if !strings.Contains(logbuf.String(), "never issued") {
		t.Errorf("expected an error about a foreign pointer, log: %q", logbuf.String())
	}
}

func TestBlockPoolNilRelease(t *testing.T) {
	p := NewBlockPool(1024, 1, 64, false, nil)
	defer p.Destroy()
	p.Release(nil)
	if p.Owns(nil) {
		t.Error("pool claims ownership of nil")
	}
}

func TestBlockPoolDestroy(t *testing.T) {
	liveBefore := alloc.AllocationCount()

	p := NewBlockPool(2048, 6, 64, false, nil)
	if got := alloc.AllocationCount() - liveBefore; got != 6 {
		t.Fatalf("pool construction added %d live allocations, want 6", got)
	}

	// Destroy frees in-flight blocks too; that is the reset contract.
	_ = p.Acquire()
	p.Destroy()

	if got := alloc.AllocationCount(); got != liveBefore {
		t.Errorf("AllocationCount = %d after destroy, want %d", got, liveBefore)
	}
}

func TestBlockPoolConcurrent(t *testing.T) {
	p := NewBlockPool(4096, 16, 64, true, nil)
	defer p.Destroy()

	const goroutines = 8
	const iterations = 100

	done := make(chan bool, goroutines)
	for g := 0; g < goroutines; g++ {
		go func(id int) {
			for i := 0; i < iterations; i++ {
				ptr := p.Acquire()
				if ptr == nil {
					t.Errorf("goroutine %d: acquire failed", id)
					done <- false
					return
				}
				data := unsafe.Slice((*byte)(ptr), 4096)
				data[0] = byte(id)
				data[4095] = byte(i)
				p.Release(ptr)
			}
			done <- true
		}(g)
	}
	for g := 0; g < goroutines; g++ {
		<-done
	}

	if free, total := p.FreeCount(), p.BlockCount(); free != total {
		t.Errorf("free %d != total %d after all releases", free, total)
	}
}

func BenchmarkBlockPoolAcquireRelease(b *testing.B) {
	p := NewBlockPool(8192, 64, 64, true, nil)
	defer p.Destroy()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			ptr := p.Acquire()
			if ptr != nil {
				p.Release(ptr)
			}
		}
	})
}
