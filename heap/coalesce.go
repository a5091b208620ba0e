package heap

type mergeKind int

const (
	mergeNone mergeKind = iota
	mergePrev
	mergeNext
	mergeBoth
)

// mergeClass inspects the allocated bits of bp's physical neighbors through
// their boundary tags and classifies the merge in one pass. The prologue and
// epilogue are permanently allocated, so blocks at either end of the heap
// classify correctly with no special casing.
func (h *Heap) mergeClass(bp int) mergeKind {
	prevFree := !h.blockAllocated(h.prevBlock(bp))
	nextFree := !h.blockAllocated(h.nextBlock(bp))

	switch {
	case prevFree && nextFree:
		return mergeBoth
	case prevFree:
		return mergePrev
	case nextFree:
		return mergeNext
	default:
		return mergeNone
	}
}

// coalesce merges the free, list-resident block at bp with any free physical
// neighbors and returns the payload offset of the resulting block. The merged
// span is retagged once and re-inserted under its new size, so no two adjacent
// free blocks survive the call.
func (h *Heap) coalesce(bp int) int {
	kind := h.mergeClass(bp)
	if kind == mergeNone {
		return bp
	}

	h.popFree(bp)
	size := h.blockSize(bp)

	switch kind {
	case mergePrev:
		prev := h.prevBlock(bp)
		h.popFree(prev)
		size += h.blockSize(prev)
		bp = prev
	case mergeNext:
		next := h.nextBlock(bp)
		h.popFree(next)
		size += h.blockSize(next)
	case mergeBoth:
		prev := h.prevBlock(bp)
		next := h.nextBlock(bp)
		h.popFree(prev)
		h.popFree(next)
		size += h.blockSize(prev) + h.blockSize(next)
		bp = prev
	}

	h.setTags(bp, size, false)
	h.addFree(bp, size)
	return bp
}
