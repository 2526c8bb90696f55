// Package alloc provides the aligned allocation primitive underneath the
// tiermem pool layers. Every allocation carries a header immediately before
// the returned address, tagged with a magic value so that double frees and
// header corruption are detected at deallocation time. Statistics are global
// and lock-free; the package itself takes no mutex on any path.
package alloc

import (
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/orizon-lang/tiermem/internal/osmem"
)

// Alignment values covering the common SIMD, cache-line and page boundaries.
const (
	AlignSIMD128   uintptr = 16
	AlignSIMD256   uintptr = 32
	AlignCacheLine uintptr = 64
	AlignPage      uintptr = 4096
)

// Header state tags. A live allocation carries magicLive; Deallocate rewrites
// it to magicFreed so a repeated deallocate is distinguishable from random
// header corruption.
const (
	magicLive  uint32 = 0xDEADBEEF
	magicFreed uint32 = 0xFEEDFACE
)

// maxAlignment bounds requests so the alignment fits the 32-bit header field.
const maxAlignment uintptr = 1 << 30

// allocationHeader sits immediately before every address handed out by
// Allocate. rawBase/rawLen own the underlying OS reservation, released
// exactly once when the header transitions live -> freed.
type allocationHeader struct {
	rawBase   unsafe.Pointer
	rawLen    uintptr
	size      uintptr
	alignment uint32
	magic     uint32
}

const headerSize = unsafe.Sizeof(allocationHeader{})

func init() {
	// The header size participates in the alignment arithmetic, so it must
	// itself be a power of two. 32 bytes on 64-bit platforms.
	if headerSize&(headerSize-1) != 0 {
		panic(fmt.Sprintf("alloc: header size %d is not a power of two", headerSize))
	}
}

// Global statistics, updated lock-free.
var (
	totalAllocated   uint64 // bytes currently live
	totalDeallocated uint64 // cumulative bytes returned
	peakAllocated    uint64 // high-water mark of totalAllocated
	allocationCount  uint64 // live allocation count
)

// Freed reservations pass through a fixed-size ring before going back to the
// OS. The freed header must stay addressable long enough for a double free to
// hit the magic check instead of faulting on an unmapped page.
const quarantineSlots = 16

type retired struct {
	base unsafe.Pointer
	n    uintptr
}

var (
	quarantine   [quarantineSlots]atomic.Pointer[retired]
	quarantineAt uint64
)

func retire(base unsafe.Pointer, n uintptr) {
	slot := (atomic.AddUint64(&quarantineAt, 1) - 1) % quarantineSlots
	old := quarantine[slot].Swap(&retired{base: base, n: n})
	if old == nil {
		return
	}
	if err := osmem.Release(old.base, old.n); err != nil {
		slog.Error("alloc: release failed", "error", err)
	}
}

// fatalf terminates the process when heap corruption is detected. Continuing
// after a corrupted or doubly freed header risks spreading the damage, so
// this path never returns. Tests substitute a panicking hook.
var fatalf = func(format string, args ...interface{}) {
	slog.Error(fmt.Sprintf(format, args...))
	os.Exit(2)
}

// Allocate returns size bytes aligned to the requested power-of-two boundary,
// or nil when the request is invalid or the OS refuses memory. An alignment
// below the header size is silently raised to it, so the header always fits
// in front of the returned address.
func Allocate(size, alignment uintptr) unsafe.Pointer {
	if size == 0 {
		slog.Warn("alloc: zero-size allocation rejected")
		return nil
	}
	if alignment == 0 || alignment&(alignment-1) != 0 || alignment > maxAlignment {
		slog.Warn("alloc: invalid alignment", "alignment", alignment)
		return nil
	}
	if alignment < headerSize {
		alignment = headerSize
	}

	total := size + alignment + headerSize
	base, rawLen, err := osmem.Reserve(total)
	if err != nil {
		slog.Error("alloc: reservation failed", "size", size, "error", err)
		return nil
	}

	// First alignment boundary that leaves room for the header in front.
	user := unsafe.Add(base, alignUp(uintptr(base)+headerSize, alignment)-uintptr(base))
	hdr := (*allocationHeader)(unsafe.Add(user, -int(headerSize)))
	hdr.rawBase = base
	hdr.rawLen = rawLen
	hdr.size = size
	hdr.alignment = uint32(alignment)
	hdr.magic = magicLive

	now := atomic.AddUint64(&totalAllocated, uint64(size))
	atomic.AddUint64(&allocationCount, 1)
	for {
		peak := atomic.LoadUint64(&peakAllocated)
		if now <= peak || atomic.CompareAndSwapUint64(&peakAllocated, peak, now) {
			break
		}
	}
	return user
}

// Deallocate returns an allocation obtained from Allocate. Nil is a no-op.
// A pointer whose header is not live aborts the process: a freed tag means
// double free, anything else means the header was overwritten.
func Deallocate(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	hdr := (*allocationHeader)(unsafe.Add(ptr, -int(headerSize)))
	if m := hdr.magic; m != magicLive {
		if m == magicFreed {
			fatalf("alloc: double free of %p (size %d)", ptr, hdr.size)
		} else {
			fatalf("alloc: corrupted header at %p: magic 0x%08X", ptr, m)
		}
		return
	}

	atomic.AddUint64(&totalAllocated, ^uint64(hdr.size-1))
	atomic.AddUint64(&totalDeallocated, uint64(hdr.size))
	atomic.AddUint64(&allocationCount, ^uint64(0))

	hdr.magic = magicFreed
	retire(hdr.rawBase, hdr.rawLen)
}

// TotalAllocated returns the bytes currently live.
func TotalAllocated() uintptr {
	return uintptr(atomic.LoadUint64(&totalAllocated))
}

// TotalDeallocated returns the cumulative bytes returned so far.
func TotalDeallocated() uintptr {
	return uintptr(atomic.LoadUint64(&totalDeallocated))
}

// PeakAllocated returns the high-water mark of live bytes.
func PeakAllocated() uintptr {
	return uintptr(atomic.LoadUint64(&peakAllocated))
}

// AllocationCount returns the number of live allocations.
func AllocationCount() uint64 {
	return atomic.LoadUint64(&allocationCount)
}

// ResetStatistics zeroes all counters. Live allocation headers are untouched
// and remain valid to deallocate.
func ResetStatistics() {
	atomic.StoreUint64(&totalAllocated, 0)
	atomic.StoreUint64(&totalDeallocated, 0)
	atomic.StoreUint64(&peakAllocated, 0)
	atomic.StoreUint64(&allocationCount, 0)
}

// alignUp rounds n up to the next multiple of align, which must be a power
// of two.
func alignUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}
