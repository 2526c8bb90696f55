//go:build windows

package osmem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

func reserve(n uintptr) (unsafe.Pointer, uintptr, error) {
	addr, err := windows.VirtualAlloc(0, n, windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, 0, fmt.Errorf("osmem: VirtualAlloc %d bytes: %w", n, err)
	}
	return unsafe.Pointer(addr), n, nil
}

func release(p unsafe.Pointer, n uintptr) error {
	if err := windows.VirtualFree(uintptr(p), 0, windows.MEM_RELEASE); err != nil {
		return fmt.Errorf("osmem: VirtualFree: %w", err)
	}
	return nil
}
