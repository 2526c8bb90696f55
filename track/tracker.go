// Package track maintains an allocation ledger for leak detection and
// memory attribution. The tracker is a diagnostic side table: it never owns
// memory, and any allocation source can feed it. Construct one at the
// composition root and hand it to whatever should report into it.
package track

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
	"unsafe"
)

// AllocationInfo describes one live allocation in the ledger.
type AllocationInfo struct {
	Size      uintptr
	Alignment uintptr
	Tag       string
	Timestamp time.Time
}

// Statistics is a snapshot of the tracker's counters. AllocationsByTag maps
// each tag to the bytes currently attributed to it.
type Statistics struct {
	TotalAllocations      uint64
	TotalDeallocations    uint64
	CurrentAllocated      uint64
	PeakAllocated         uint64
	TotalBytesAllocated   uint64
	TotalBytesDeallocated uint64
	AllocationsByTag      map[string]uint64
}

// Tracker records allocations keyed by pointer. One mutex guards the whole
// ledger; tracking is a diagnostic path, not the allocation hot path.
// Methods on a nil *Tracker are no-ops, so callers with optional tracking
// can skip the nil checks.
type Tracker struct {
	mu      sync.Mutex
	enabled bool
	ledger  map[unsafe.Pointer]AllocationInfo
	byTag   map[string]uint64
	stats   Statistics
	logger  *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger routes the tracker's diagnostics to l.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// Disabled constructs the tracker switched off; every call is a no-op until
// SetEnabled(true).
func Disabled() Option {
	return func(t *Tracker) { t.enabled = false }
}

// New returns an enabled Tracker with an empty ledger.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		enabled: true,
		ledger:  make(map[unsafe.Pointer]AllocationInfo),
		byTag:   make(map[string]uint64),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TrackAllocation records ptr under tag. Nil pointers are ignored. An
// existing entry for ptr is overwritten silently: a pointer showing up twice
// means it was legitimately reused after a deallocation this tracker never
// saw, and the last write wins.
func (t *Tracker) TrackAllocation(ptr unsafe.Pointer, size, alignment uintptr, tag string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled || ptr == nil {
		return
	}
	t.ledger[ptr] = AllocationInfo{
		Size:      size,
		Alignment: alignment,
		Tag:       tag,
		Timestamp: time.Now(),
	}
	t.stats.TotalAllocations++
	t.stats.TotalBytesAllocated += uint64(size)
	t.stats.CurrentAllocated += uint64(size)
	if t.stats.CurrentAllocated > t.stats.PeakAllocated {
		t.stats.PeakAllocated = t.stats.CurrentAllocated
	}
	t.byTag[tag] += uint64(size)
}

// TrackDeallocation removes ptr from the ledger. An unknown pointer gets a
// warning and nothing else; this layer is diagnostic, never fatal.
func (t *Tracker) TrackDeallocation(ptr unsafe.Pointer) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled || ptr == nil {
		return
	}
	info, ok := t.ledger[ptr]
	if !ok {
		t.logger.Warn("deallocating untracked pointer", "pointer", fmt.Sprintf("%p", ptr))
		return
	}
	delete(t.ledger, ptr)
	t.stats.TotalDeallocations++
	t.stats.TotalBytesDeallocated += uint64(info.Size)
	if t.stats.CurrentAllocated >= uint64(info.Size) {
		t.stats.CurrentAllocated -= uint64(info.Size)
	} else {
		t.stats.CurrentAllocated = 0
	}
	// Drop the tag entirely once its total reaches zero so the tag map
	// stays bounded.
	if cur := t.byTag[info.Tag]; cur > uint64(info.Size) {
		t.byTag[info.Tag] = cur - uint64(info.Size)
	} else {
		delete(t.byTag, info.Tag)
	}
}

// DetectLeaks returns every pointer still present in the ledger. A non-empty
// result is a leak report at the point of the call; when to check is the
// caller's decision.
func (t *Tracker) DetectLeaks() []unsafe.Pointer {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.ledger) == 0 {
		return nil
	}
	leaks := make([]unsafe.Pointer, 0, len(t.ledger))
	for ptr := range t.ledger {
		leaks = append(leaks, ptr)
	}
	t.logger.Warn("memory leaks detected", "count", len(leaks))
	return leaks
}

// DumpAllocations logs every live allocation with its size, alignment, tag
// and age, followed by the per-tag totals.
func (t *Tracker) DumpAllocations() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logger.Info("live allocations", "count", len(t.ledger))
	now := time.Now()
	for ptr, info := range t.ledger {
		t.logger.Info("allocation",
			"pointer", fmt.Sprintf("%p", ptr),
			"size", info.Size,
			"alignment", info.Alignment,
			"tag", info.Tag,
			"age_ms", now.Sub(info.Timestamp).Milliseconds(),
		)
	}
	tags := make([]string, 0, len(t.byTag))
	for tag := range t.byTag {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		t.logger.Info("tag total", "tag", tag, "bytes", t.byTag[tag])
	}
}

// Statistics returns a copy of the counters, including the per-tag totals.
func (t *Tracker) Statistics() Statistics {
	if t == nil {
		return Statistics{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.stats
	out.AllocationsByTag = make(map[string]uint64, len(t.byTag))
	for tag, n := range t.byTag {
		out.AllocationsByTag[tag] = n
	}
	return out
}

// Clear wipes the ledger and all counters. Intended for test isolation.
func (t *Tracker) Clear() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ledger = make(map[unsafe.Pointer]AllocationInfo)
	t.byTag = make(map[string]uint64)
	t.stats = Statistics{}
}

// SetEnabled toggles tracking. Disabling does not clear existing entries.
func (t *Tracker) SetEnabled(enabled bool) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

// Enabled reports whether tracking is active.
func (t *Tracker) Enabled() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// Scope logs the net allocation delta between the call and the moment the
// returned func runs, bracketing a phase of work:
//
//	defer tr.Scope("decode")()
func (t *Tracker) Scope(name string) func() {
	if t == nil {
		return func() {}
	}
	start := t.currentAllocated()
	return func() {
		delta := int64(t.currentAllocated()) - int64(start)
		t.logger.Info("scope memory delta", "scope", name, "delta_bytes", delta)
	}
}

func (t *Tracker) currentAllocated() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats.CurrentAllocated
}
