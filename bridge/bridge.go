// Package bridge is the embedding boundary of the allocator: a single facade
// that owns the tiered pool and the allocation ledger, hands out Buffer
// handles instead of raw pointers, and exposes the lifecycle an embedding
// runtime needs (initialize, reset, leak check, shutdown). Host code talks
// to this package only; the pool and tracker underneath stay swappable.
package bridge

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unsafe"

	"github.com/orizon-lang/tiermem/alloc"
	"github.com/orizon-lang/tiermem/pool"
	"github.com/orizon-lang/tiermem/track"
)

// Buffer is a handle to one pool allocation. The zero Buffer is nil: it has
// no backing memory and deallocating it is a no-op.
type Buffer struct {
	ptr  unsafe.Pointer
	size uintptr
}

// Bytes returns the buffer's memory as a byte slice. The slice aliases pool
// memory and must not be used after the buffer is deallocated or the bridge
// is reset.
func (b Buffer) Bytes() []byte {
	if b.ptr == nil {
		return nil
	}
	return unsafe.Slice((*byte)(b.ptr), b.size)
}

// Size returns the requested size of the buffer in bytes.
func (b Buffer) Size() uintptr { return b.size }

// Pointer returns the raw payload pointer.
func (b Buffer) Pointer() unsafe.Pointer { return b.ptr }

// IsNil reports whether the buffer has no backing memory.
func (b Buffer) IsNil() bool { return b.ptr == nil }

// Bridge mediates between host code and the allocator stack. The mutex only
// guards the pool and tracker references; allocation traffic runs on the
// pool's own synchronization.
type Bridge struct {
	mu      sync.Mutex
	pool    *pool.MemoryPool
	tracker *track.Tracker
	logger  *slog.Logger
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger routes the bridge's diagnostics to l.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithTracker substitutes an externally owned allocation ledger. Without it,
// Initialize builds a private one.
func WithTracker(tr *track.Tracker) Option {
	return func(b *Bridge) { b.tracker = tr }
}

// New returns an uninitialized Bridge. Call Initialize before allocating.
func New(opts ...Option) *Bridge {
	b := &Bridge{logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Initialize builds the pool from cfg and warms it up. Statistics, zeroing
// and expansion are always enabled at this boundary regardless of what cfg
// says; host-facing allocations are not the place to trade safety for
// throughput. Calling Initialize on a live bridge tears the old pool down
// first, so repeated initialization converges instead of leaking.
func (b *Bridge) Initialize(cfg pool.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pool != nil {
		b.logger.Warn("reinitializing live bridge, discarding current pool")
		b.pool.Destroy()
		b.pool = nil
		if b.tracker != nil {
			b.tracker.Clear()
		}
	}

	if b.tracker == nil {
		b.tracker = track.New(track.WithLogger(b.logger))
	}

	cfg.EnableStatistics = true
	cfg.ZeroOnDealloc = true
	cfg.AllowExpansion = true

	p, err := pool.New(cfg, pool.WithLogger(b.logger), pool.WithTracker(b.tracker))
	if err != nil {
		return fmt.Errorf("bridge: initialize: %w", err)
	}
	p.Warmup()
	b.pool = p

	b.logger.Info("memory bridge initialized",
		"small", fmt.Sprintf("%dx%d", cfg.SmallPoolCount, cfg.SmallBlockSize),
		"medium", fmt.Sprintf("%dx%d", cfg.MediumPoolCount, cfg.MediumBlockSize),
		"large", fmt.Sprintf("%dx%d", cfg.LargePoolCount, cfg.LargeBlockSize),
	)
	return nil
}

// Initialized reports whether the bridge has a live pool.
func (b *Bridge) Initialized() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pool != nil
}

func (b *Bridge) current() (*pool.MemoryPool, *track.Tracker, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pool == nil {
		return nil, nil, ErrNotInitialized
	}
	return b.pool, b.tracker, nil
}

// Allocate returns a buffer of at least size bytes.
func (b *Bridge) Allocate(size uintptr) (Buffer, error) {
	p, _, err := b.current()
	if err != nil {
		return Buffer{}, err
	}
	if size == 0 {
		return Buffer{}, ErrInvalidSize
	}
	ptr := p.Allocate(size)
	if ptr == nil {
		return Buffer{}, fmt.Errorf("%w: %d bytes", ErrOutOfMemory, size)
	}
	return Buffer{ptr: ptr, size: size}, nil
}

// AllocateAligned returns a buffer and verifies its address against the
// requested alignment. The pool allocates at its configured alignment, so a
// stricter request can go unmet; that is logged as a warning, not failed,
// and the buffer is still returned.
func (b *Bridge) AllocateAligned(size, alignment uintptr) (Buffer, error) {
	if alignment == 0 || alignment&(alignment-1) != 0 {
		return Buffer{}, fmt.Errorf("%w: %d", ErrInvalidAlignment, alignment)
	}
	buf, err := b.Allocate(size)
	if err != nil {
		return Buffer{}, err
	}
	if uintptr(buf.ptr)&(alignment-1) != 0 {
		b.logger.Warn("allocation does not meet requested alignment",
			"pointer", fmt.Sprintf("%p", buf.ptr), "alignment", alignment)
	}
	return buf, nil
}

// Deallocate returns buf to the pool. The zero Buffer is a no-op.
func (b *Bridge) Deallocate(buf Buffer) error {
	if buf.ptr == nil {
		return nil
	}
	p, _, err := b.current()
	if err != nil {
		return err
	}
	p.Deallocate(buf.ptr)
	return nil
}

// Statistics returns the pool's aggregate counters.
func (b *Bridge) Statistics() (pool.Statistics, error) {
	p, _, err := b.current()
	if err != nil {
		return pool.Statistics{}, err
	}
	return p.Statistics(), nil
}

// TrackerStatistics returns the ledger's counters.
func (b *Bridge) TrackerStatistics() (track.Statistics, error) {
	_, tr, err := b.current()
	if err != nil {
		return track.Statistics{}, err
	}
	return tr.Statistics(), nil
}

// DetectLeaks reports whether the ledger holds live allocations, dumping
// them at warn level when it does. An uninitialized bridge has nothing to
// leak.
func (b *Bridge) DetectLeaks() bool {
	_, tr, err := b.current()
	if err != nil {
		return false
	}
	leaks := tr.DetectLeaks()
	if len(leaks) == 0 {
		return false
	}
	tr.DumpAllocations()
	return true
}

// Reset discards every outstanding allocation, rebuilds the pool tiers and
// clears the ledger. Buffers handed out before the reset are dead.
func (b *Bridge) Reset() error {
	p, tr, err := b.current()
	if err != nil {
		return err
	}
	p.Reset()
	tr.Clear()
	b.logger.Info("memory bridge reset")
	return nil
}

// Warmup re-primes the pool's free lists.
func (b *Bridge) Warmup() error {
	p, _, err := b.current()
	if err != nil {
		return err
	}
	p.Warmup()
	return nil
}

// DumpState logs the pool configuration, tier fill levels and the ledger
// contents.
func (b *Bridge) DumpState() error {
	p, tr, err := b.current()
	if err != nil {
		return err
	}
	p.DumpState()
	tr.DumpAllocations()
	return nil
}

// ClearTracker empties the allocation ledger without touching the pool.
func (b *Bridge) ClearTracker() {
	b.mu.Lock()
	tr := b.tracker
	b.mu.Unlock()
	tr.Clear()
}

// AllocatorStats renders the low-level allocator and ledger counters as a
// text report. The allocator numbers are process-wide, not per bridge.
func (b *Bridge) AllocatorStats() string {
	var sb strings.Builder
	sb.WriteString("=== AlignedAllocator Stats ===\n")
	fmt.Fprintf(&sb, "Total Allocated: %d bytes\n", alloc.TotalAllocated())
	fmt.Fprintf(&sb, "Total Deallocated: %d bytes\n", alloc.TotalDeallocated())
	fmt.Fprintf(&sb, "Peak Allocated: %d bytes\n", alloc.PeakAllocated())
	fmt.Fprintf(&sb, "Live Allocations: %d\n", alloc.AllocationCount())

	b.mu.Lock()
	tr := b.tracker
	b.mu.Unlock()

	sb.WriteString("\n=== MemoryTracker Stats ===\n")
	if tr == nil {
		sb.WriteString("tracker not attached\n")
		return sb.String()
	}
	ts := tr.Statistics()
	fmt.Fprintf(&sb, "Total Allocations: %d\n", ts.TotalAllocations)
	fmt.Fprintf(&sb, "Total Deallocations: %d\n", ts.TotalDeallocations)
	fmt.Fprintf(&sb, "Current Allocated: %d bytes\n", ts.CurrentAllocated)
	fmt.Fprintf(&sb, "Peak Allocated: %d bytes\n", ts.PeakAllocated)
	return sb.String()
}

// Close checks for leaks, destroys the pool and leaves the bridge
// uninitialized. Safe to call twice.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pool == nil {
		return nil
	}
	if b.tracker != nil {
		if leaks := b.tracker.DetectLeaks(); len(leaks) > 0 {
			b.tracker.DumpAllocations()
		}
		b.tracker.Clear()
	}
	b.pool.Destroy()
	b.pool = nil
	b.logger.Info("memory bridge closed")
	return nil
}
