// Package heap implements a segregated-fits allocator over a growable
// arena.Memory region. Free blocks are indexed by 16 size-classed, explicit
// doubly-linked lists embedded at the start of the region; every block carries
// boundary tags so the physical block chain can be walked in both directions.
// Placement pops the head of the first suitable class list, which behaves like
// best fit because lists are kept size-ordered. Adjacent free blocks are
// coalesced on every free and every heap extension.
//
// A Heap is not safe for concurrent use: every operation performs multiple
// dependent writes to shared block metadata. Callers needing concurrency must
// serialize access themselves.
package heap

import (
	"github.com/barblog/segfits"
	"github.com/barblog/segfits/arena"
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// fixedOverhead is the byte cost of the padding word, the free-list index, the
// prologue, and the epilogue header.
const fixedOverhead = (ListCount + 4) * WordSize

// Heap is a single allocation arena. All allocator state lives either in the
// region itself or in this struct, so independent Heap values over independent
// regions do not interact.
type Heap struct {
	mem    arena.Memory
	buf    []byte
	logger *slog.Logger

	// base is the payload offset of the prologue block; the first real block
	// starts DoubleWordSize bytes after it
	base int

	allocCount int
	freeCount  int
	freeBytes  int
}

// New initializes an allocator inside mem, which must be empty: the free-list
// index, the prologue, and the epilogue are planted at the start of the region
// and the heap is extended once by InitSize. logger may be nil.
func New(mem arena.Memory, logger *slog.Logger) (*Heap, error) {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Heap{
		mem:    mem,
		logger: logger,
	}

	offset, err := mem.Grow(fixedOverhead)
	if err != nil {
		return nil, err
	}
	if offset != 0 {
		return nil, errors.Errorf("heap must begin at the start of its region, but the region already holds %d bytes", offset)
	}

	h.buf = mem.Bytes()
	h.base = (ListCount + 2) * WordSize

	h.putWord(0, 0) // alignment padding
	for i := 0; i < ListCount; i++ {
		h.setListHead(i, NullOffset)
	}
	h.putWord(headerOf(h.base), pack(DoubleWordSize, true)) // prologue header
	h.putWord(h.base, pack(DoubleWordSize, true))           // prologue footer
	h.putWord(h.base+WordSize, pack(0, true))               // epilogue header

	if _, err := h.extend(InitSize); err != nil {
		return nil, err
	}

	h.logger.Debug("heap initialized", slog.Int("regionSize", mem.Size()))
	segfits.DebugValidate(h)

	return h, nil
}

// alignSize converts a payload request into a block size: room for the header
// and footer, double-word alignment, and the four-word minimum that lets the
// block rejoin a free list later.
func alignSize(size int) int {
	if size <= DoubleWordSize {
		return 2 * DoubleWordSize
	}
	return segfits.AlignUp(size+DoubleWordSize, DoubleWordSize)
}

// extend grows the region by at least size bytes, replants the epilogue at the
// new end, and returns the free block created from the new space, merged with
// any free block that was sitting at the old end of the heap.
func (h *Heap) extend(size int) (int, error) {
	size = segfits.AlignUp(size, DoubleWordSize)

	offset, err := h.mem.Grow(size)
	if err != nil {
		return NullOffset, err
	}
	h.buf = h.mem.Bytes()

	// the old epilogue header becomes the new block's header, so the new
	// block's payload begins exactly where the region used to end
	bp := offset
	h.setTags(bp, size, false)
	h.putWord(headerOf(h.nextBlock(bp)), pack(0, true)) // replant epilogue

	h.addFree(bp, size)

	h.logger.Debug("heap extended", slog.Int("bytes", size), slog.Int("regionSize", h.mem.Size()))

	return h.coalesce(bp), nil
}

// Alloc reserves size payload bytes and returns the payload's offset within
// the region. A size of zero returns NullOffset with no error; a nil error
// with a NullOffset result therefore only means the caller asked for nothing.
// Alloc fails only when the region cannot grow far enough to serve the
// request.
func (h *Heap) Alloc(size int) (int, error) {
	if size == 0 {
		return NullOffset, nil
	}
	if size < 0 {
		return NullOffset, errors.Errorf("invalid allocation size: %d", size)
	}

	aligned := alignSize(size) + segfits.DebugMargin

	// within each class the head is the smallest entry, so the head of the
	// first class that can cover the request is already a near-best fit
	bp := NullOffset
	for index := 0; index < ListCount; index++ {
		head := h.listHead(index)
		if head != NullOffset && h.blockSize(head) >= aligned {
			bp = head
			break
		}
	}

	if bp == NullOffset {
		var err error
		bp, err = h.extend(maxInt(aligned, ChunkSize))
		if err != nil {
			return NullOffset, err
		}
	}

	bp = h.place(bp, aligned)
	h.allocCount++
	h.writeAllocGuard(bp)

	h.logger.Debug("alloc", slog.Int("offset", bp), slog.Int("blockSize", h.blockSize(bp)))
	segfits.DebugValidate(h)

	return bp, nil
}

// Free returns the allocation at bp to the heap. bp must be an offset handed
// out by Alloc or Realloc and not yet freed: freeing anything else, or freeing
// twice, silently corrupts the heap. That contract is not checked here; only
// Validate can detect the damage after the fact.
func (h *Heap) Free(bp int) {
	size := h.blockSize(bp)
	h.setTags(bp, size, false)
	h.addFree(bp, size)
	h.coalesce(bp)
	h.allocCount--

	h.logger.Debug("free", slog.Int("offset", bp), slog.Int("blockSize", size))
	segfits.DebugValidate(h)
}

// Realloc resizes the allocation at bp to size payload bytes and returns the
// offset of the resized allocation, which may differ from bp. A size of zero
// frees the block and returns NullOffset. If the current block already covers
// the request it is returned unchanged. Growing prefers merging with the next
// physical block when the merge covers the request, or when the next block
// reaches the end of the heap so the region can be extended behind it; no
// payload bytes move on that path. Otherwise the payload is copied to a fresh
// allocation and the old block freed.
//
// On error the original allocation is untouched and still owned by the caller.
func (h *Heap) Realloc(bp int, size int) (int, error) {
	if size == 0 {
		h.Free(bp)
		return NullOffset, nil
	}
	if size < 0 {
		return NullOffset, errors.Errorf("invalid allocation size: %d", size)
	}

	aligned := alignSize(size) + segfits.DebugMargin

	if h.blockSize(bp) >= aligned {
		return bp, nil
	}

	next := h.nextBlock(bp)
	nextIsEnd := h.blockSize(next) == 0
	nextFree := !h.blockAllocated(next) && !nextIsEnd

	// growing in place is possible when merging with the next block covers the
	// request outright, or when the next block reaches the end of the heap so
	// that an extension lands adjacent to it
	mergeSuffices := nextFree && h.blockSize(bp)+h.blockSize(next) >= aligned
	reachesEnd := nextIsEnd || (nextFree && h.blockSize(h.nextBlock(next)) == 0)

	if !mergeSuffices && !reachesEnd {
		// the neighbor is live: allocate elsewhere, copy, release
		newBp, err := h.Alloc(size)
		if err != nil {
			return NullOffset, err
		}

		n := minInt(h.PayloadSize(bp), h.PayloadSize(newBp))
		copy(h.buf[newBp:newBp+n], h.buf[bp:bp+n])
		h.Free(bp)

		h.logger.Debug("realloc moved", slog.Int("from", bp), slog.Int("to", newBp), slog.Int("blockSize", h.blockSize(newBp)))
		segfits.DebugValidate(h)

		return newBp, nil
	}

	// grow in place over the next block, extending the heap first if the
	// combined span still falls short
	deficit := aligned - h.blockSize(bp) - h.blockSize(next)
	if deficit > 0 {
		if _, err := h.extend(maxInt(ChunkSize, deficit)); err != nil {
			return NullOffset, err
		}
		// the new space merged into (or became) the block at next
	}

	merged := h.blockSize(bp) + h.blockSize(next)
	h.popFree(next)
	h.setTags(bp, merged, true)
	h.writeAllocGuard(bp)

	h.logger.Debug("realloc in place", slog.Int("offset", bp), slog.Int("blockSize", merged))
	segfits.DebugValidate(h)

	return bp, nil
}

// PayloadSize returns the usable bytes of the allocation at bp, which is at
// least what was asked of Alloc and possibly more.
func (h *Heap) PayloadSize(bp int) int {
	return h.blockSize(bp) - DoubleWordSize - segfits.DebugMargin
}

// Payload returns the usable bytes of the allocation at bp. The slice aliases
// the heap region and is invalidated by any call that can extend the heap.
func (h *Heap) Payload(bp int) []byte {
	return h.buf[bp : bp+h.PayloadSize(bp)]
}

// Size returns the current size of the heap region in bytes.
func (h *Heap) Size() int {
	return h.mem.Size()
}

// AllocationCount returns the number of live allocations.
func (h *Heap) AllocationCount() int {
	return h.allocCount
}

// FreeRegionsCount returns the number of distinct free blocks.
func (h *Heap) FreeRegionsCount() int {
	return h.freeCount
}

// SumFreeSize returns the number of free bytes in the heap.
func (h *Heap) SumFreeSize() int {
	return h.freeBytes
}

// VisitBlocks calls visit once for every block between the prologue and the
// epilogue, in physical order, stopping at the first error.
func (h *Heap) VisitBlocks(visit func(offset, size int, allocated bool) error) error {
	for bp := h.nextBlock(h.base); h.blockSize(bp) != 0; bp = h.nextBlock(bp) {
		if err := visit(bp, h.blockSize(bp), h.blockAllocated(bp)); err != nil {
			return err
		}
	}
	return nil
}

// AddStatistics sums this heap's usage into stats.
func (h *Heap) AddStatistics(stats *segfits.Statistics) {
	stats.HeapCount++
	stats.HeapBytes += h.mem.Size()
	stats.AllocationCount += h.allocCount
	stats.AllocationBytes += h.mem.Size() - fixedOverhead - h.freeBytes
}

// AddDetailedStatistics sums this heap's usage, including per-range minima and
// maxima, into stats. It walks the physical block chain.
func (h *Heap) AddDetailedStatistics(stats *segfits.DetailedStatistics) {
	stats.HeapCount++
	stats.HeapBytes += h.mem.Size()

	_ = h.VisitBlocks(func(offset, size int, allocated bool) error {
		if allocated {
			stats.AddAllocation(size)
		} else {
			stats.AddFreeRange(size)
		}
		return nil
	})
}

// writeAllocGuard stamps the corruption-detection marker across the guard
// bytes at the tail of the allocated block at bp. No-op without the
// debug_segfits build tag.
func (h *Heap) writeAllocGuard(bp int) {
	if segfits.DebugMargin == 0 {
		return
	}
	segfits.WriteMagicValue(h.buf, h.footerOf(bp)-segfits.DebugMargin)
}

func maxInt(x, y int) int {
	if x > y {
		return x
	}
	return y
}

func minInt(x, y int) int {
	if x < y {
		return x
	}
	return y
}
