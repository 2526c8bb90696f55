//go:build !unix && !windows

package osmem

import (
	"sync"
	"unsafe"
)

// Without an OS mapping primitive, reservations come from the Go heap and are
// pinned in a registry so the collector keeps them alive until Release.
var (
	pinnedMu sync.Mutex
	pinned   = make(map[unsafe.Pointer][]byte)
)

func reserve(n uintptr) (unsafe.Pointer, uintptr, error) {
	buf := make([]byte, n)
	p := unsafe.Pointer(&buf[0])
	pinnedMu.Lock()
	pinned[p] = buf
	pinnedMu.Unlock()
	return p, n, nil
}

func release(p unsafe.Pointer, n uintptr) error {
	pinnedMu.Lock()
	delete(pinned, p)
	pinnedMu.Unlock()
	return nil
}
