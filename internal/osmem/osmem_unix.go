//go:build unix

package osmem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

func reserve(n uintptr) (unsafe.Pointer, uintptr, error) {
	b, err := unix.Mmap(-1, 0, int(n), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, 0, fmt.Errorf("osmem: mmap %d bytes: %w", n, err)
	}
	return unsafe.Pointer(&b[0]), n, nil
}

func release(p unsafe.Pointer, n uintptr) error {
	b := unsafe.Slice((*byte)(p), n)
	if err := unix.Munmap(b); err != nil {
		return fmt.Errorf("osmem: munmap %d bytes: %w", n, err)
	}
	return nil
}
