package heap

// placeSplit retags one free block as two adjacent sub-blocks: the first of
// firstSize bytes with the given allocated bit, the second of secondSize bytes
// with its inverse.
func (h *Heap) placeSplit(bp int, firstSize, secondSize int, allocated bool) {
	h.setTags(bp, firstSize, allocated)
	h.setTags(bp+firstSize, secondSize, !allocated)
}

// place carves an allocation of size bytes out of the free block at bp and
// returns the payload offset of the allocated portion. The block is unlinked
// first; any leftover large enough to stand alone goes back into the index.
//
// Whether the leftover lands before or after the payload is a fragmentation
// heuristic: large leftovers stay behind the payload, small ones are pushed in
// front of it so they cluster at the low end of the span.
func (h *Heap) place(bp int, size int) int {
	total := h.blockSize(bp)
	remainder := total - size
	h.popFree(bp)

	if remainder < minBlockSize {
		// leftover cannot hold its own tags and links, take the whole block
		h.setTags(bp, total, true)
		return bp
	}

	if remainder >= placeThreshold*size {
		// front-load: payload first, leftover after it
		h.placeSplit(bp, size, remainder, true)
		h.addFree(bp+size, remainder)
		return bp
	}

	// back-load: leftover first, payload second
	h.placeSplit(bp, remainder, size, false)
	h.addFree(bp, remainder)
	return bp + remainder
}
