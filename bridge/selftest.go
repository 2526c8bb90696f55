package bridge

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/orizon-lang/tiermem/alloc"
)

// SelfTest exercises the aligned allocator underneath the pool: basic
// round-trip, the alignment ladder, pattern integrity, statistics deltas and
// a large allocation. It returns nil when every check passes and an error
// naming the failed checks otherwise. The statistics check reads the
// process-wide counters, so results are only meaningful without concurrent
// allocator traffic.
func (b *Bridge) SelfTest() error {
	checks := []struct {
		name string
		run  func() error
	}{
		{"basic", selfTestBasic},
		{"alignment", selfTestAlignment},
		{"pattern", selfTestPattern},
		{"statistics", selfTestStatistics},
		{"large", selfTestLarge},
	}

	var failed []string
	for _, c := range checks {
		if err := c.run(); err != nil {
			b.logger.Error("self test check failed", "check", c.name, "error", err)
			failed = append(failed, c.name)
			continue
		}
		b.logger.Debug("self test check passed", "check", c.name)
	}
	if len(failed) > 0 {
		return fmt.Errorf("bridge: self test failed: %s", strings.Join(failed, ", "))
	}
	b.logger.Info("self test passed", "checks", len(checks))
	return nil
}

func selfTestBasic() error {
	ptr := alloc.Allocate(1024, 16)
	if ptr == nil {
		return fmt.Errorf("allocation of 1024 bytes failed")
	}
	defer alloc.Deallocate(ptr)

	data := unsafe.Slice((*byte)(ptr), 1024)
	data[0] = 0x42
	data[1023] = 0x24
	if data[0] != 0x42 || data[1023] != 0x24 {
		return fmt.Errorf("buffer does not hold written values")
	}
	return nil
}

func selfTestAlignment() error {
	for _, alignment := range []uintptr{16, 32, 64, 128, 256} {
		ptr := alloc.Allocate(512, alignment)
		if ptr == nil {
			return fmt.Errorf("allocation with alignment %d failed", alignment)
		}
		misaligned := uintptr(ptr)&(alignment-1) != 0
		alloc.Deallocate(ptr)
		if misaligned {
			return fmt.Errorf("pointer %p not aligned to %d", ptr, alignment)
		}
	}
	return nil
}

func selfTestPattern() error {
	ptr := alloc.Allocate(256, 32)
	if ptr == nil {
		return fmt.Errorf("allocation of 256 bytes failed")
	}
	defer alloc.Deallocate(ptr)

	data := unsafe.Slice((*byte)(ptr), 256)
	for i := range data {
		data[i] = 0xAB
	}
	for i, v := range data {
		if v != 0xAB {
			return fmt.Errorf("pattern mismatch at offset %d: %#x", i, v)
		}
	}
	return nil
}

func selfTestStatistics() error {
	baseBytes := alloc.TotalAllocated()
	baseCount := alloc.AllocationCount()

	a := alloc.Allocate(1024, 64)
	b := alloc.Allocate(2048, 64)
	if a == nil || b == nil {
		alloc.Deallocate(a)
		alloc.Deallocate(b)
		return fmt.Errorf("allocations for statistics check failed")
	}

	if delta := alloc.TotalAllocated() - baseBytes; delta != 3072 {
		alloc.Deallocate(a)
		alloc.Deallocate(b)
		return fmt.Errorf("allocated bytes delta = %d, want 3072", delta)
	}
	if delta := alloc.AllocationCount() - baseCount; delta != 2 {
		alloc.Deallocate(a)
		alloc.Deallocate(b)
		return fmt.Errorf("live allocation delta = %d, want 2", delta)
	}

	alloc.Deallocate(a)
	alloc.Deallocate(b)
	if got := alloc.AllocationCount(); got != baseCount {
		return fmt.Errorf("live allocations = %d after cleanup, want %d", got, baseCount)
	}
	return nil
}

func selfTestLarge() error {
	const size = 1024 * 1024
	ptr := alloc.Allocate(size, 256)
	if ptr == nil {
		return fmt.Errorf("allocation of %d bytes failed", size)
	}
	defer alloc.Deallocate(ptr)

	data := unsafe.Slice((*byte)(ptr), size)
	data[0] = 1
	data[size/2] = 2
	data[size-1] = 3
	if data[0] != 1 || data[size/2] != 2 || data[size-1] != 3 {
		return fmt.Errorf("large buffer does not hold written values")
	}
	return nil
}
