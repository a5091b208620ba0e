// Package arena provides the growable memory region a heap lives in. It is the
// boundary between the allocator and whatever actually owns the bytes: the
// allocator only ever asks the region for its current extent or for more space
// at the end, it never returns space.
package arena

import (
	"github.com/barblog/segfits"
	"github.com/cockroachdb/errors"
)

// Memory is a region of bytes that can only grow, in the manner of the classic
// sbrk call. Offsets into the region are stable across growth; the backing
// slice is not.
type Memory interface {
	// Grow extends the region by exactly extra bytes and returns the offset of
	// the first new byte. Failure means the region is exhausted; it is permanent
	// and the region is left unchanged.
	Grow(extra int) (int, error)
	// Size returns the current size of the region in bytes.
	Size() int
	// Bytes returns the backing bytes of the region. The returned slice is
	// invalidated by the next call to Grow.
	Bytes() []byte
}

// DefaultLimit is the capacity cap applied by NewSliceMemory when no limit is
// given: 20MB, enough for any reasonable single-arena workload.
const DefaultLimit = 20 * (1 << 20)

// SliceMemory is a Memory backed by an ordinary byte slice, growable up to a
// fixed capacity.
type SliceMemory struct {
	buf   []byte
	limit int
}

var _ Memory = &SliceMemory{}

// NewSliceMemory creates an empty region that can grow to at most limit bytes.
// A limit of 0 or less selects DefaultLimit.
func NewSliceMemory(limit int) *SliceMemory {
	if limit <= 0 {
		limit = DefaultLimit
	}

	return &SliceMemory{limit: limit}
}

func (m *SliceMemory) Grow(extra int) (int, error) {
	if extra <= 0 {
		return 0, errors.Errorf("invalid region extension: %d bytes", extra)
	}

	if len(m.buf)+extra > m.limit {
		return 0, errors.Wrapf(segfits.OutOfMemoryError,
			"cannot extend region by %d bytes (current size %d, limit %d)", extra, len(m.buf), m.limit)
	}

	old := len(m.buf)
	m.buf = append(m.buf, make([]byte, extra)...)
	return old, nil
}

func (m *SliceMemory) Size() int {
	return len(m.buf)
}

func (m *SliceMemory) Bytes() []byte {
	return m.buf
}
