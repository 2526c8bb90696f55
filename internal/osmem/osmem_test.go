package osmem

import (
	"testing"
	"unsafe"
)

func TestReserveRelease(t *testing.T) {
	t.Run("RoundsToPageSize", func(t *testing.T) {
		p, n, err := Reserve(100)
		if err != nil {
			t.Fatalf("Reserve failed: %v", err)
		}
		if p == nil {
			t.Fatal("Reserve returned nil pointer")
		}
		if n != PageSize() {
			t.Errorf("expected one page (%d bytes), got %d", PageSize(), n)
		}
		if err := Release(p, n); err != nil {
			t.Errorf("Release failed: %v", err)
		}
	})

	t.Run("ZeroFilled", func(t *testing.T) {
		p, n, err := Reserve(4096)
		if err != nil {
			t.Fatalf("Reserve failed: %v", err)
		}
		buf := unsafe.Slice((*byte)(p), n)
		for i, b := range buf {
			if b != 0 {
				t.Fatalf("byte %d not zero: 0x%02X", i, b)
			}
		}
		if err := Release(p, n); err != nil {
			t.Errorf("Release failed: %v", err)
		}
	})

	t.Run("WriteReadBack", func(t *testing.T) {
		p, n, err := Reserve(8192)
		if err != nil {
			t.Fatalf("Reserve failed: %v", err)
		}
		buf := unsafe.Slice((*byte)(p), n)
		for i := range buf {
			buf[i] = byte(i % 256)
		}
		for i := range buf {
			if buf[i] != byte(i%256) {
				t.Fatalf("byte %d corrupted: expected 0x%02X, got 0x%02X", i, byte(i%256), buf[i])
			}
		}
		if err := Release(p, n); err != nil {
			t.Errorf("Release failed: %v", err)
		}
	})

	t.Run("ZeroLength", func(t *testing.T) {
		if p, _, err := Reserve(0); err == nil {
			t.Errorf("expected error for zero-length reservation, got %p", p)
		}
	})

	t.Run("NilRelease", func(t *testing.T) {
		if err := Release(nil, 0); err != nil {
			t.Errorf("nil release should be a no-op, got %v", err)
		}
	})
}

func TestReserveMany(t *testing.T) {
	type res struct {
		p unsafe.Pointer
		n uintptr
	}
	var all []res
	for i := 0; i < 64; i++ {
		p, n, err := Reserve(uintptr(1024 * (i + 1)))
		if err != nil {
			t.Fatalf("Reserve %d failed: %v", i, err)
		}
		buf := unsafe.Slice((*byte)(p), n)
		buf[0] = byte(i)
		buf[n-1] = byte(i)
		all = append(all, res{p, n})
	}
	for i, r := range all {
		buf := unsafe.Slice((*byte)(r.p), r.n)
		if buf[0] != byte(i) || buf[r.n-1] != byte(i) {
			t.Errorf("reservation %d corrupted", i)
		}
		if err := Release(r.p, r.n); err != nil {
			t.Errorf("Release %d failed: %v", i, err)
		}
	}
}
