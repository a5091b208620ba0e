package heap

// classOf returns the index of the free list serving blocks of the given size:
// the smallest i such that size fits under 4*WordSize << i, clamped to the last
// list, which is open-ended. The mapping depends on nothing but size, so a
// block is always popped from the same list it was added to.
func classOf(size int) int {
	index := 0
	for bound := minBlockSize; bound < minBlockSize<<(ListCount-1); bound <<= 1 {
		if bound >= size {
			break
		}
		index++
	}
	return index
}

// listSlot returns the offset of the head word for free list index. The slots
// sit at the very start of the region, right after the padding word and before
// the prologue.
func listSlot(index int) int {
	return (index + 1) * WordSize
}

func (h *Heap) listHead(index int) int {
	return int(h.word(listSlot(index)))
}

func (h *Heap) setListHead(index int, bp int) {
	h.putWord(listSlot(index), uint64(bp))
}

// addFree threads the free block at bp into its class list, keeping the list
// ordered by ascending block size. Because Alloc always takes a list's head,
// the ordering makes head-popping behave like best fit within the class.
func (h *Heap) addFree(bp int, size int) {
	index := classOf(size)
	head := h.listHead(index)

	// find the first entry at least as large as the new block
	curr := head
	pred := curr
	for curr != NullOffset && size > h.blockSize(curr) {
		pred = curr
		curr = h.succ(curr)
	}

	switch {
	case head == NullOffset:
		// sole entry of an empty list
		h.setPred(bp, NullOffset)
		h.setSucc(bp, NullOffset)
		h.setListHead(index, bp)
	case curr == NullOffset:
		// every entry is smaller, append at the tail
		h.setPred(bp, pred)
		h.setSucc(bp, NullOffset)
		h.setSucc(pred, bp)
	case curr == head:
		// new front of the list
		h.setPred(bp, NullOffset)
		h.setSucc(bp, curr)
		h.setPred(curr, bp)
		h.setListHead(index, bp)
	default:
		// splice in mid-list, before curr
		h.setPred(bp, pred)
		h.setSucc(bp, curr)
		h.setPred(curr, bp)
		h.setSucc(pred, bp)
	}

	h.freeCount++
	h.freeBytes += size
}

// popFree unlinks the free block at bp from its class list. The block's
// recorded size must not have changed since addFree, or the wrong list head
// would be consulted.
func (h *Heap) popFree(bp int) {
	size := h.blockSize(bp)
	index := classOf(size)
	pred := h.pred(bp)
	succ := h.succ(bp)

	switch {
	case pred == NullOffset && succ == NullOffset:
		h.setListHead(index, NullOffset)
	case pred == NullOffset:
		h.setListHead(index, succ)
		h.setPred(succ, NullOffset)
	case succ == NullOffset:
		h.setSucc(pred, NullOffset)
	default:
		h.setSucc(pred, succ)
		h.setPred(succ, pred)
	}

	h.freeCount--
	h.freeBytes -= size
}
