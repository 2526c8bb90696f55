// Package pool implements the tiered memory pool: three fixed-size block
// tiers (small/medium/large) with free-list reuse, plus a direct-allocation
// fallback for anything larger or any tier that runs dry. Allocation routing,
// aggregate statistics and the reset/warmup lifecycle live here; the aligned
// allocation primitive itself is the alloc package.
package pool

import (
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"golang.org/x/sync/errgroup"

	"github.com/orizon-lang/tiermem/alloc"
	"github.com/orizon-lang/tiermem/track"
)

// Config describes the tier layout and behavior flags of a MemoryPool.
type Config struct {
	SmallBlockSize  uintptr `json:"small_block_size"`
	MediumBlockSize uintptr `json:"medium_block_size"`
	LargeBlockSize  uintptr `json:"large_block_size"`
	SmallPoolCount  uintptr `json:"small_pool_count"`
	MediumPoolCount uintptr `json:"medium_pool_count"`
	LargePoolCount  uintptr `json:"large_pool_count"`

	// Alignment applies to every block and direct allocation. Zero means
	// cache-line alignment.
	Alignment uintptr `json:"alignment"`

	EnableStatistics bool `json:"enable_statistics"`
	ZeroOnDealloc    bool `json:"zero_on_dealloc"`
	AllowExpansion   bool `json:"allow_expansion"`

	Logger  *slog.Logger   `json:"-"`
	Tracker *track.Tracker `json:"-"`
}

// DefaultConfig returns the stock tier layout: 8 KiB x 128, 64 KiB x 32,
// 1 MiB x 8, cache-line aligned, with statistics, zeroing and expansion all
// enabled.
func DefaultConfig() Config {
	return Config{
		SmallBlockSize:   8 * 1024,
		MediumBlockSize:  64 * 1024,
		LargeBlockSize:   1024 * 1024,
		SmallPoolCount:   128,
		MediumPoolCount:  32,
		LargePoolCount:   8,
		Alignment:        alloc.AlignCacheLine,
		EnableStatistics: true,
		ZeroOnDealloc:    true,
		AllowExpansion:   true,
	}
}

// Option mutates a Config before the pool is built.
type Option func(*Config)

// WithLogger routes the pool's diagnostics to l.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithTracker attaches an allocation ledger; every allocate and deallocate
// is mirrored into it under the "MemoryPool" tag.
func WithTracker(tr *track.Tracker) Option {
	return func(c *Config) { c.Tracker = tr }
}

// WithAlignment overrides the block and direct-allocation alignment.
func WithAlignment(alignment uintptr) Option {
	return func(c *Config) { c.Alignment = alignment }
}

// WithExpansion controls whether exhausted tiers may grow.
func WithExpansion(enabled bool) Option {
	return func(c *Config) { c.AllowExpansion = enabled }
}

// WithZeroOnDealloc controls buffer zeroing on release and hand-out.
func WithZeroOnDealloc(enabled bool) Option {
	return func(c *Config) { c.ZeroOnDealloc = enabled }
}

// WithStatistics controls aggregate statistics collection.
func WithStatistics(enabled bool) Option {
	return func(c *Config) { c.EnableStatistics = enabled }
}

// WithTiers overrides the three block sizes and counts at once.
func WithTiers(smallSize, smallCount, mediumSize, mediumCount, largeSize, largeCount uintptr) Option {
	return func(c *Config) {
		c.SmallBlockSize = smallSize
		c.SmallPoolCount = smallCount
		c.MediumBlockSize = mediumSize
		c.MediumPoolCount = mediumCount
		c.LargeBlockSize = largeSize
		c.LargePoolCount = largeCount
	}
}

// Validate checks the tier layout and alignment. A zero alignment is valid
// and means the cache-line default.
func (c *Config) Validate() error {
	if c.SmallBlockSize == 0 || c.MediumBlockSize == 0 || c.LargeBlockSize == 0 {
		return fmt.Errorf("%w: zero block size", ErrInvalidConfig)
	}
	if c.SmallBlockSize >= c.MediumBlockSize || c.MediumBlockSize >= c.LargeBlockSize {
		return fmt.Errorf("%w: tier sizes must ascend (%d, %d, %d)",
			ErrInvalidConfig, c.SmallBlockSize, c.MediumBlockSize, c.LargeBlockSize)
	}
	if c.Alignment&(c.Alignment-1) != 0 {
		return fmt.Errorf("%w: alignment %d is not a power of two", ErrInvalidConfig, c.Alignment)
	}
	return nil
}

// MemoryPool routes allocations across the three tiers and the direct
// fallback. A single call takes at most two locks: the matched tier's, then
// either the statistics lock or the direct-map lock, always in that order.
type MemoryPool struct {
	cfg Config

	small  *BlockPool
	medium *BlockPool
	large  *BlockPool

	directMu sync.Mutex
	direct   map[unsafe.Pointer]uintptr // payload -> requested size

	statsMu sync.Mutex
	stats   Statistics

	logger  *slog.Logger
	tracker *track.Tracker
}

// The tag every pool-mediated allocation carries in the tracker ledger.
const trackTag = "MemoryPool"

// New builds a MemoryPool from cfg with opts applied on top.
func New(cfg Config, opts ...Option) (*MemoryPool, error) {
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Alignment == 0 {
		cfg.Alignment = alloc.AlignCacheLine
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &MemoryPool{
		cfg:     cfg,
		direct:  make(map[unsafe.Pointer]uintptr),
		logger:  cfg.Logger,
		tracker: cfg.Tracker,
	}
	p.buildPools()
	return p, nil
}

func (p *MemoryPool) buildPools() {
	p.small = NewBlockPool(p.cfg.SmallBlockSize, p.cfg.SmallPoolCount, p.cfg.Alignment, p.cfg.AllowExpansion, p.logger)
	p.medium = NewBlockPool(p.cfg.MediumBlockSize, p.cfg.MediumPoolCount, p.cfg.Alignment, p.cfg.AllowExpansion, p.logger)
	p.large = NewBlockPool(p.cfg.LargeBlockSize, p.cfg.LargePoolCount, p.cfg.Alignment, p.cfg.AllowExpansion, p.logger)
}

// Config returns the configuration the pool was built with.
func (p *MemoryPool) Config() Config {
	return p.cfg
}

// Allocate returns a buffer of at least size bytes, served from the smallest
// tier whose block size fits, or directly from the aligned allocator when no
// tier fits or the matched tier is exhausted. Nil means size was zero or
// memory could not be obtained at all.
func (p *MemoryPool) Allocate(size uintptr) unsafe.Pointer {
	if size == 0 {
		return nil
	}

	var tier *BlockPool
	switch {
	case size <= p.cfg.SmallBlockSize:
		tier = p.small
	case size <= p.cfg.MediumBlockSize:
		tier = p.medium
	case size <= p.cfg.LargeBlockSize:
		tier = p.large
	}

	var ptr unsafe.Pointer
	if tier != nil {
		ptr = tier.Acquire()
	}
	if ptr == nil {
		tier = nil
		ptr = alloc.Allocate(size, p.cfg.Alignment)
		if ptr == nil {
			p.logger.Error("allocation failed", "size", size)
			return nil
		}
		p.directMu.Lock()
		p.direct[ptr] = size
		p.directMu.Unlock()
	}

	if p.cfg.ZeroOnDealloc {
		zeroRange(ptr, size)
	}
	p.recordAllocate(size, tier)
	p.tracker.TrackAllocation(ptr, size, p.cfg.Alignment, trackTag)
	return ptr
}

// Deallocate hands ptr back to whichever tier owns it, checked small to
// large, or frees it as a direct allocation. A pointer neither a tier nor
// the direct map recognizes is logged and ignored; the pool's own state is
// still consistent, so this is never fatal here. Nil is a no-op.
func (p *MemoryPool) Deallocate(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	if p.releaseToTier(p.small, ptr) || p.releaseToTier(p.medium, ptr) || p.releaseToTier(p.large, ptr) {
		return
	}

	p.directMu.Lock()
	size, ok := p.direct[ptr]
	if ok {
		delete(p.direct, ptr)
	}
	p.directMu.Unlock()
	if ok {
		if p.cfg.ZeroOnDealloc {
			zeroRange(ptr, size)
		}
		alloc.Deallocate(ptr)
		p.recordDeallocate(size)
		p.tracker.TrackDeallocation(ptr)
		return
	}

	p.logger.Error("deallocating pointer the pool never issued", "pointer", fmt.Sprintf("%p", ptr))
}

// releaseToTier returns ptr to tier if the tier owns it. The tier's fixed
// block size is authoritative for zeroing and statistics, not whatever the
// caller originally asked for.
func (p *MemoryPool) releaseToTier(tier *BlockPool, ptr unsafe.Pointer) bool {
	if !tier.Owns(ptr) {
		return false
	}
	if p.cfg.ZeroOnDealloc {
		zeroRange(ptr, tier.BlockSize())
	}
	tier.Release(ptr)
	p.recordDeallocate(tier.BlockSize())
	p.tracker.TrackDeallocation(ptr)
	return true
}

// Reset discards all pool state: direct allocations are freed, the three
// tiers are rebuilt from scratch and statistics are zeroed. Callers must not
// hold pool pointers across a reset.
func (p *MemoryPool) Reset() {
	p.Destroy()
	p.buildPools()

	p.statsMu.Lock()
	p.stats = Statistics{}
	p.statsMu.Unlock()
}

// Destroy releases every tier block and direct allocation. The pool must not
// be used afterwards; Reset is the variant that rebuilds.
func (p *MemoryPool) Destroy() {
	p.directMu.Lock()
	for ptr := range p.direct {
		alloc.Deallocate(ptr)
	}
	p.direct = make(map[unsafe.Pointer]uintptr)
	p.directMu.Unlock()

	p.small.Destroy()
	p.medium.Destroy()
	p.large.Destroy()
}

// Warmup acquires half of each tier's configured block count and releases it
// again, so the first real allocations find populated free lists. The three
// tiers warm concurrently. Warmup bypasses statistics and tracking; it is
// pool maintenance, not workload.
func (p *MemoryPool) Warmup() {
	var g errgroup.Group
	for _, w := range []struct {
		tier  *BlockPool
		count uintptr
	}{
		{p.small, p.cfg.SmallPoolCount / 2},
		{p.medium, p.cfg.MediumPoolCount / 2},
		{p.large, p.cfg.LargePoolCount / 2},
	} {
		w := w
		g.Go(func() error {
			ptrs := make([]unsafe.Pointer, 0, w.count)
			for i := uintptr(0); i < w.count; i++ {
				ptr := w.tier.Acquire()
				if ptr == nil {
					break
				}
				ptrs = append(ptrs, ptr)
			}
			for _, ptr := range ptrs {
				w.tier.Release(ptr)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Statistics returns a snapshot of the aggregate counters. HitRate is
// derived at snapshot time from hits and misses, staying 0 until either
// counter moves.
func (p *MemoryPool) Statistics() Statistics {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	out := p.stats
	if total := out.CacheHits + out.CacheMisses; total > 0 {
		out.HitRate = float64(out.CacheHits) / float64(total)
	}
	return out
}

// DumpState logs the configuration, per-tier fill levels and the statistics
// block.
func (p *MemoryPool) DumpState() {
	p.logger.Info("memory pool configuration",
		"small", fmt.Sprintf("%dx%d", p.cfg.SmallPoolCount, p.cfg.SmallBlockSize),
		"medium", fmt.Sprintf("%dx%d", p.cfg.MediumPoolCount, p.cfg.MediumBlockSize),
		"large", fmt.Sprintf("%dx%d", p.cfg.LargePoolCount, p.cfg.LargeBlockSize),
		"alignment", p.cfg.Alignment,
		"zero_on_dealloc", p.cfg.ZeroOnDealloc,
		"allow_expansion", p.cfg.AllowExpansion,
	)
	for _, tier := range []struct {
		name string
		pool *BlockPool
	}{
		{"small", p.small}, {"medium", p.medium}, {"large", p.large},
	} {
		p.logger.Info("tier state", "tier", tier.name,
			"free", tier.pool.FreeCount(), "total", tier.pool.BlockCount())
	}
	p.directMu.Lock()
	directCount := len(p.direct)
	p.directMu.Unlock()
	p.logger.Info("direct allocations", "count", directCount)

	stats := p.Statistics()
	p.logger.Info("memory pool statistics",
		"current", FormatBytes(int64(stats.CurrentUsage)),
		"peak", FormatBytes(int64(stats.PeakUsage)),
		"allocations", stats.AllocationCount,
		"deallocations", stats.DeallocationCount,
		"hit_rate", fmt.Sprintf("%.2f%%", stats.HitRate*100),
	)
}

func (p *MemoryPool) recordAllocate(size uintptr, tier *BlockPool) {
	if !p.cfg.EnableStatistics {
		return
	}
	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	p.stats.TotalAllocated += uint64(size)
	p.stats.CurrentUsage += uint64(size)
	p.stats.AllocationCount++
	if p.stats.CurrentUsage > p.stats.PeakUsage {
		p.stats.PeakUsage = p.stats.CurrentUsage
	}
	switch tier {
	case nil:
		p.stats.CacheMisses++
		p.stats.DirectAllocations++
	case p.small:
		p.stats.CacheHits++
		p.stats.SmallPoolHits++
	case p.medium:
		p.stats.CacheHits++
		p.stats.MediumPoolHits++
	case p.large:
		p.stats.CacheHits++
		p.stats.LargePoolHits++
	}
}

func (p *MemoryPool) recordDeallocate(size uintptr) {
	if !p.cfg.EnableStatistics {
		return
	}
	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	p.stats.TotalDeallocated += uint64(size)
	p.stats.DeallocationCount++
	// Tier releases are recorded at the tier's block size while allocations
	// are recorded at the requested size, so usage is clamped rather than
	// allowed to wrap.
	if p.stats.CurrentUsage >= uint64(size) {
		p.stats.CurrentUsage -= uint64(size)
	} else {
		p.stats.CurrentUsage = 0
	}
}

func zeroRange(ptr unsafe.Pointer, n uintptr) {
	clear(unsafe.Slice((*byte)(ptr), n))
}
