package heap

import "encoding/binary"

const (
	// WordSize is the size in bytes of a boundary-tag word, which is also the
	// size of the offsets threaded through free blocks
	WordSize = 8
	// DoubleWordSize is the alignment unit: every block size and every payload
	// offset is a multiple of it
	DoubleWordSize = 2 * WordSize

	// ListCount is the number of segregated free lists in the index
	ListCount = 16
	// ChunkSize is the default amount the heap grows by when no free block can
	// serve a request
	ChunkSize = (1 << 12) + DoubleWordSize
	// InitSize is the size of the single free block created when the heap is
	// initialized
	InitSize = (1 << 7) + DoubleWordSize

	// minBlockSize is a header, a footer, and the two list links that overlay a
	// free block's payload
	minBlockSize = 4 * WordSize
	// placeThreshold tunes the placement policy: leftovers at least this many
	// times the request are placed after the payload rather than before it
	placeThreshold = 7

	// NullOffset is the nil value for block offsets. The first word of the
	// region is permanent alignment padding, so no payload ever lives at 0.
	NullOffset = 0
)

// The block format below is shared by every block in the heap, free or
// allocated. A block is addressed by its payload offset bp. One word before bp
// sits the header, a packed (size, allocated) word, where size covers the
// whole block including header and footer. The footer duplicates the header in
// the block's last word so the previous block is reachable backwards. In free
// blocks the first two payload words are overlaid with the predecessor and
// successor offsets of the block's free list.

// pack encodes a block size and allocated bit into a boundary-tag word. size
// must be a multiple of DoubleWordSize.
func pack(size int, allocated bool) uint64 {
	tag := uint64(size)
	if allocated {
		tag |= 1
	}
	return tag
}

func tagSize(tag uint64) int {
	return int(tag &^ 0x7)
}

func tagAllocated(tag uint64) bool {
	return tag&0x1 != 0
}

func (h *Heap) word(offset int) uint64 {
	return binary.LittleEndian.Uint64(h.buf[offset:])
}

func (h *Heap) putWord(offset int, value uint64) {
	binary.LittleEndian.PutUint64(h.buf[offset:], value)
}

// headerOf returns the offset of the header word of the block at bp.
func headerOf(bp int) int {
	return bp - WordSize
}

func (h *Heap) blockSize(bp int) int {
	return tagSize(h.word(headerOf(bp)))
}

func (h *Heap) blockAllocated(bp int) bool {
	return tagAllocated(h.word(headerOf(bp)))
}

// footerOf returns the offset of the footer word of the block at bp. The
// block's header must already be valid, since the footer position depends on
// the recorded size.
func (h *Heap) footerOf(bp int) int {
	return bp + h.blockSize(bp) - DoubleWordSize
}

// setTags writes matching header and footer for the block at bp in one shot.
func (h *Heap) setTags(bp int, size int, allocated bool) {
	tag := pack(size, allocated)
	h.putWord(headerOf(bp), tag)
	h.putWord(bp+size-DoubleWordSize, tag)
}

// nextBlock returns the payload offset of the physically following block.
func (h *Heap) nextBlock(bp int) int {
	return bp + h.blockSize(bp)
}

// prevBlock returns the payload offset of the physically preceding block. It
// reads that block's footer, which is why every block carries one.
func (h *Heap) prevBlock(bp int) int {
	return bp - tagSize(h.word(bp-DoubleWordSize))
}

// pred and succ read the free-list links overlaid on a free block's payload.

func (h *Heap) pred(bp int) int {
	return int(h.word(bp))
}

func (h *Heap) succ(bp int) int {
	return int(h.word(bp + WordSize))
}

func (h *Heap) setPred(bp int, pred int) {
	h.putWord(bp, uint64(pred))
}

func (h *Heap) setSucc(bp int, succ int) {
	h.putWord(bp+WordSize, uint64(succ))
}
