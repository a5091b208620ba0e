package heap

import (
	"github.com/barblog/segfits"
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
)

var _ segfits.Validatable = &Heap{}

// Validate performs a full consistency scan of the heap: the physical block
// chain from the prologue to the epilogue, and every free list, cross-checked
// against each other and against the heap's running counters. It returns nil
// when the heap is self-consistent; any error it does return signals a bug in
// the allocator itself, not in the caller, and the heap should be considered
// unusable.
func (h *Heap) Validate() error {
	if h.blockSize(h.base) != DoubleWordSize || !h.blockAllocated(h.base) {
		return errors.Errorf("bad prologue tag %#x", h.word(headerOf(h.base)))
	}
	if h.word(headerOf(h.base)) != h.word(h.base) {
		return errors.New("prologue header and footer disagree")
	}

	endTag := h.word(h.mem.Size() - WordSize)
	if tagSize(endTag) != 0 || !tagAllocated(endTag) {
		return errors.Errorf("bad epilogue tag %#x", endTag)
	}

	// Walk every free list, recording membership for the physical walk below
	seen := swiss.NewMap[int, struct{}](64)
	var listCount, listBytes int

	for index := 0; index < ListCount; index++ {
		prev := NullOffset
		prevSize := 0

		for bp := h.listHead(index); bp != NullOffset; bp = h.succ(bp) {
			if h.blockAllocated(bp) {
				return errors.Errorf("block at offset %d is in free list %d but is marked allocated", bp, index)
			}

			size := h.blockSize(bp)
			if classOf(size) != index {
				return errors.Errorf("block at offset %d has size %d, which belongs in free list %d, not %d", bp, size, classOf(size), index)
			}
			if h.word(headerOf(bp)) != h.word(h.footerOf(bp)) {
				return errors.Errorf("block at offset %d has mismatched header and footer", bp)
			}
			if h.pred(bp) != prev {
				return errors.Errorf("block at offset %d does not link back to its predecessor at offset %d", bp, prev)
			}
			if size < prevSize {
				return errors.Errorf("free list %d is not size-ordered at offset %d (%d after %d)", index, bp, size, prevSize)
			}
			if _, ok := seen.Get(bp); ok {
				return errors.Errorf("block at offset %d appears in the free lists more than once", bp)
			}
			seen.Put(bp, struct{}{})

			listCount++
			listBytes += size
			prev, prevSize = bp, size
		}
	}

	// Walk the physical block chain
	var physCount, physBytes, allocCount, allocBytes int
	end := h.mem.Size() - WordSize
	prevFree := false

	for bp := h.nextBlock(h.base); ; bp = h.nextBlock(bp) {
		if bp > end {
			return errors.Errorf("physical block chain walked past the epilogue to offset %d", bp)
		}

		size := h.blockSize(bp)
		if size == 0 {
			break // epilogue
		}

		if size < minBlockSize || size%DoubleWordSize != 0 {
			return errors.Errorf("block at offset %d has invalid size %d", bp, size)
		}
		if h.word(headerOf(bp)) != h.word(h.footerOf(bp)) {
			return errors.Errorf("block at offset %d has mismatched header and footer", bp)
		}

		if h.blockAllocated(bp) {
			allocCount++
			allocBytes += size
			prevFree = false
			continue
		}

		if prevFree {
			return errors.Errorf("adjacent free blocks survived coalescing at offset %d", bp)
		}
		if _, ok := seen.Get(bp); !ok {
			return errors.Errorf("free block at offset %d is missing from the free lists", bp)
		}

		physCount++
		physBytes += size
		prevFree = true
	}

	if physCount != listCount {
		return errors.Errorf("the free lists hold %d blocks but the physical chain holds %d free blocks", listCount, physCount)
	}
	if physBytes != listBytes {
		return errors.Errorf("the free lists hold %d free bytes but the physical chain holds %d", listBytes, physBytes)
	}
	if physCount != h.freeCount || physBytes != h.freeBytes {
		return errors.Errorf("free counters (%d blocks, %d bytes) disagree with the heap (%d blocks, %d bytes)",
			h.freeCount, h.freeBytes, physCount, physBytes)
	}
	if allocCount != h.allocCount {
		return errors.Errorf("allocation counter is %d but the physical chain holds %d allocated blocks", h.allocCount, allocCount)
	}
	if physBytes+allocBytes+fixedOverhead != h.mem.Size() {
		return errors.Errorf("free bytes (%d), allocated bytes (%d), and fixed overhead (%d) do not account for the %d-byte region",
			physBytes, allocBytes, fixedOverhead, h.mem.Size())
	}

	return nil
}

// CheckCorruption verifies the guard markers at the tail of every live
// allocation. Markers are only written when segfits is built with the
// debug_segfits tag; without it this method cannot detect anything.
func (h *Heap) CheckCorruption() error {
	return h.VisitBlocks(func(offset, size int, allocated bool) error {
		if !allocated {
			return nil
		}
		if !segfits.ValidateMagicValue(h.buf, offset+size-DoubleWordSize-segfits.DebugMargin) {
			return errors.Errorf("corruption detected after the allocation at offset %d", offset)
		}
		return nil
	})
}
