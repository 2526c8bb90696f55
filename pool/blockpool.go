package pool

import (
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/orizon-lang/tiermem/alloc"
)

// block wraps one fixed-size buffer owned by a BlockPool for the pool's
// entire lifetime. Blocks are only freed when the pool itself is destroyed.
type block struct {
	ptr   unsafe.Pointer
	inUse bool
}

// BlockPool hands out fixed-size aligned blocks from a free list. The block
// collection is append-only: the pool grows on demand and never shrinks.
// Each pool carries its own mutex, so tiers never contend with each other.
type BlockPool struct {
	mu             sync.Mutex
	blockSize      uintptr
	alignment      uintptr
	allowExpansion bool
	blocks         []*block
	freeList       []*block
	logger         *slog.Logger
}

// NewBlockPool pre-allocates initialCount blocks of blockSize bytes. If an
// allocation fails mid-way the pool simply ends up short, with a warning;
// construction itself never fails.
func NewBlockPool(blockSize, initialCount, alignment uintptr, allowExpansion bool, logger *slog.Logger) *BlockPool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &BlockPool{
		blockSize:      blockSize,
		alignment:      alignment,
		allowExpansion: allowExpansion,
		logger:         logger,
	}
	p.mu.Lock()
	p.grow(initialCount)
	p.mu.Unlock()
	return p
}

// grow appends up to n freshly allocated blocks, stopping early if the
// aligned allocator runs dry. Caller holds mu.
func (p *BlockPool) grow(n uintptr) {
	for i := uintptr(0); i < n; i++ {
		ptr := alloc.Allocate(p.blockSize, p.alignment)
		if ptr == nil {
			p.logger.Warn("block pre-allocation stopped short",
				"added", i, "requested", n, "block_size", p.blockSize)
			return
		}
		b := &block{ptr: ptr}
		p.blocks = append(p.blocks, b)
		p.freeList = append(p.freeList, b)
	}
}

// Acquire pops a block from the free list. When the list is empty and
// expansion is allowed, the pool grows by a quarter of its current block
// count (at least one block) first. Nil means exhaustion and is recoverable;
// the caller decides how to fall back.
func (p *BlockPool) Acquire() unsafe.Pointer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.freeList) == 0 && p.allowExpansion {
		n := uintptr(len(p.blocks)) / 4
		if n < 1 {
			n = 1
		}
		p.grow(n)
	}
	if len(p.freeList) == 0 {
		return nil
	}

	b := p.freeList[len(p.freeList)-1]
	p.freeList = p.freeList[:len(p.freeList)-1]
	b.inUse = true
	return b.ptr
}

// Release returns a block to the free list. Nil is a no-op. A block that is
// already free is logged as a double release and left alone, since the
// memory itself is still valid; a pointer this pool never issued is logged
// as an error.
func (p *BlockPool) Release(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, b := range p.blocks {
		if b.ptr != ptr {
			continue
		}
		if !b.inUse {
			p.logger.Warn("double release of pool block", "pointer", fmt.Sprintf("%p", ptr))
			return
		}
		b.inUse = false
		p.freeList = append(p.freeList, b)
		return
	}
	p.logger.Error("releasing pointer this pool never issued", "pointer", fmt.Sprintf("%p", ptr))
}

// Owns reports whether ptr is one of this pool's block payloads. Linear scan
// by exact match; pool sizes stay small enough that this is not worth an
// index.
func (p *BlockPool) Owns(ptr unsafe.Pointer) bool {
	if ptr == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range p.blocks {
		if b.ptr == ptr {
			return true
		}
	}
	return false
}

// FreeCount returns the number of blocks currently on the free list.
func (p *BlockPool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.freeList)
}

// BlockCount returns the total number of blocks the pool owns.
func (p *BlockPool) BlockCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.blocks)
}

// BlockSize returns the fixed payload size of this pool's blocks.
func (p *BlockPool) BlockSize() uintptr {
	return p.blockSize
}

// Destroy returns every block, in use or not, to the aligned allocator. The
// pool must not be used afterwards. Callers holding block pointers across a
// destroy are on their own; that is the documented reset contract.
func (p *BlockPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range p.blocks {
		alloc.Deallocate(b.ptr)
	}
	p.blocks = nil
	p.freeList = nil
}
