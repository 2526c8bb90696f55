// Package osmem reserves page-granular memory directly from the operating
// system, outside the Go heap. Reservations have stable addresses for their
// whole lifetime and are released explicitly, which is what the allocation
// header scheme in the alloc package requires.
package osmem

import (
	"errors"
	"os"
	"unsafe"
)

// PageSize returns the OS page size.
func PageSize() uintptr {
	return uintptr(os.Getpagesize())
}

// Reserve obtains at least n bytes of zero-filled memory from the OS. The
// returned length is n rounded up to the page size; Release must be called
// with exactly the returned pointer and length.
func Reserve(n uintptr) (unsafe.Pointer, uintptr, error) {
	if n == 0 {
		return nil, 0, errors.New("osmem: zero-length reservation")
	}
	return reserve(roundUp(n, PageSize()))
}

// Release returns a reservation obtained from Reserve to the OS. Releasing a
// nil pointer is a no-op.
func Release(p unsafe.Pointer, n uintptr) error {
	if p == nil || n == 0 {
		return nil
	}
	return release(p, n)
}

func roundUp(n, page uintptr) uintptr {
	return (n + page - 1) &^ (page - 1)
}
