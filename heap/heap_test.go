package heap_test

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/barblog/segfits"
	"github.com/barblog/segfits/arena"
	"github.com/barblog/segfits/heap"
	"github.com/stretchr/testify/require"
)

func newTestHeap(t *testing.T, limit int) *heap.Heap {
	t.Helper()

	h, err := heap.New(arena.NewSliceMemory(limit), nil)
	require.NoError(t, err)
	require.NoError(t, h.Validate())

	return h
}

func TestAllocAlignmentAndWritability(t *testing.T) {
	h := newTestHeap(t, 0)

	for _, size := range []int{1, 8, 16, 17, 100, 555, 4096, 10000} {
		p, err := h.Alloc(size)
		require.NoError(t, err)
		require.NotEqual(t, heap.NullOffset, p)
		require.Zero(t, p%heap.DoubleWordSize)
		require.GreaterOrEqual(t, h.PayloadSize(p), size)

		// writing every usable byte must not disturb block metadata
		payload := h.Payload(p)
		for i := range payload {
			payload[i] = 0xEE
		}
		require.NoError(t, h.Validate())
		require.NoError(t, h.CheckCorruption())
	}
}

func TestAllocZero(t *testing.T) {
	h := newTestHeap(t, 0)

	p, err := h.Alloc(0)
	require.NoError(t, err)
	require.Equal(t, heap.NullOffset, p)
	require.NoError(t, h.Validate())
}

func TestAllocNegative(t *testing.T) {
	h := newTestHeap(t, 0)

	_, err := h.Alloc(-5)
	require.Error(t, err)
	require.NoError(t, h.Validate())
}

func TestFreeRoundTrip(t *testing.T) {
	h := newTestHeap(t, 0)

	p, err := h.Alloc(64)
	require.NoError(t, err)
	require.NoError(t, h.Validate())

	h.Free(p)
	require.NoError(t, h.Validate())
	require.Zero(t, h.AllocationCount())

	p2, err := h.Alloc(64)
	require.NoError(t, err)
	require.NotEqual(t, heap.NullOffset, p2)
	require.NoError(t, h.Validate())
}

func TestExactSizeReuse(t *testing.T) {
	h := newTestHeap(t, 0)

	p1, err := h.Alloc(16)
	require.NoError(t, err)
	p2, err := h.Alloc(16)
	require.NoError(t, err)
	p3, err := h.Alloc(16)
	require.NoError(t, err)

	// equal-sized requests carve contiguous blocks out of the initial chunk
	require.Equal(t, p2, p3+32)
	require.Equal(t, p1, p2+32)

	h.Free(p2)
	require.NoError(t, h.Validate())

	// the freed block is an exact fit and heads its size class, so it is
	// handed straight back
	p4, err := h.Alloc(16)
	require.NoError(t, err)
	require.Equal(t, p2, p4)
	require.NoError(t, h.Validate())
}

func TestSteadyStateHeapSize(t *testing.T) {
	h := newTestHeap(t, 0)

	p, err := h.Alloc(100)
	require.NoError(t, err)
	h.Free(p)

	stable := h.Size()
	for i := 0; i < 200; i++ {
		p, err = h.Alloc(100)
		require.NoError(t, err)
		h.Free(p)
	}

	require.Equal(t, stable, h.Size())
	require.NoError(t, h.Validate())
}

func TestReallocSmallerReturnsSameBlock(t *testing.T) {
	h := newTestHeap(t, 0)

	p, err := h.Alloc(100)
	require.NoError(t, err)

	smaller, err := h.Realloc(p, 50)
	require.NoError(t, err)
	require.Equal(t, p, smaller)

	same, err := h.Realloc(p, 100)
	require.NoError(t, err)
	require.Equal(t, p, same)
	require.NoError(t, h.Validate())
}

func TestReallocGrowInPlacePreservesPayload(t *testing.T) {
	h := newTestHeap(t, 0)

	p, err := h.Alloc(100)
	require.NoError(t, err)

	payload := h.Payload(p)
	for i := 0; i < 100; i++ {
		payload[i] = 0xAB
	}

	// the block borders the end of the heap, so growth happens in place
	grown, err := h.Realloc(p, 500)
	require.NoError(t, err)
	require.Equal(t, p, grown)
	require.GreaterOrEqual(t, h.PayloadSize(grown), 500)
	require.NoError(t, h.Validate())

	payload = h.Payload(grown)
	for i := 0; i < 100; i++ {
		require.Equal(t, byte(0xAB), payload[i])
	}
}

func TestReallocRelocatesPastLiveNeighbor(t *testing.T) {
	h := newTestHeap(t, 0)

	p, err := h.Alloc(100)
	require.NoError(t, err)
	neighbor, err := h.Alloc(100)
	require.NoError(t, err)

	payload := h.Payload(p)
	for i := 0; i < 100; i++ {
		payload[i] = 0xCD
	}

	grown, err := h.Realloc(p, 5000)
	require.NoError(t, err)
	require.NotEqual(t, p, grown)
	require.NoError(t, h.Validate())

	payload = h.Payload(grown)
	for i := 0; i < 100; i++ {
		require.Equal(t, byte(0xCD), payload[i])
	}

	// the neighbor is untouched
	require.GreaterOrEqual(t, h.PayloadSize(neighbor), 100)
}

func TestReallocZeroFrees(t *testing.T) {
	h := newTestHeap(t, 0)

	p, err := h.Alloc(100)
	require.NoError(t, err)

	released, err := h.Realloc(p, 0)
	require.NoError(t, err)
	require.Equal(t, heap.NullOffset, released)
	require.Zero(t, h.AllocationCount())
	require.NoError(t, h.Validate())
}

func TestForcedGrowth(t *testing.T) {
	h := newTestHeap(t, 0)
	before := h.Size()

	// larger than any existing free block, so the heap must extend
	p, err := h.Alloc(8000)
	require.NoError(t, err)
	require.Greater(t, h.Size(), before)
	require.NoError(t, h.Validate())
	require.GreaterOrEqual(t, h.PayloadSize(p), 8000)

	h.Free(p)
	require.NoError(t, h.Validate())
}

func TestAllocFailureLeavesHeapConsistent(t *testing.T) {
	// room for the heap scaffolding and the initial chunk, nothing more
	h := newTestHeap(t, 304)

	p, err := h.Alloc(100)
	require.NoError(t, err)

	_, err = h.Alloc(100)
	require.Error(t, err)
	require.True(t, errors.Is(err, segfits.OutOfMemoryError))
	require.NoError(t, h.Validate())

	// the heap keeps working once space is returned
	h.Free(p)
	_, err = h.Alloc(100)
	require.NoError(t, err)
	require.NoError(t, h.Validate())
}

func TestReallocFailureLeavesBlockUntouched(t *testing.T) {
	h := newTestHeap(t, 304)

	p, err := h.Alloc(100)
	require.NoError(t, err)

	payload := h.Payload(p)
	for i := 0; i < 100; i++ {
		payload[i] = 0x5A
	}
	capacity := h.PayloadSize(p)

	_, err = h.Realloc(p, 5000)
	require.Error(t, err)
	require.True(t, errors.Is(err, segfits.OutOfMemoryError))

	// the original allocation is still live, still intact, still owned by us
	require.NoError(t, h.Validate())
	require.Equal(t, 1, h.AllocationCount())
	require.Equal(t, capacity, h.PayloadSize(p))
	payload = h.Payload(p)
	for i := 0; i < 100; i++ {
		require.Equal(t, byte(0x5A), payload[i])
	}

	h.Free(p)
	require.NoError(t, h.Validate())
}

func TestIndependentHeaps(t *testing.T) {
	h1 := newTestHeap(t, 0)
	h2 := newTestHeap(t, 0)

	p1, err := h1.Alloc(300)
	require.NoError(t, err)
	p2, err := h2.Alloc(300)
	require.NoError(t, err)

	for i := range h1.Payload(p1) {
		h1.Payload(p1)[i] = 0x11
	}
	for i := range h2.Payload(p2) {
		h2.Payload(p2)[i] = 0x22
	}

	h1.Free(p1)
	require.NoError(t, h1.Validate())
	require.NoError(t, h2.Validate())
	require.Equal(t, 1, h2.AllocationCount())
	require.Equal(t, byte(0x22), h2.Payload(p2)[0])
}

func TestDetailedStatistics(t *testing.T) {
	h := newTestHeap(t, 0)

	var stats segfits.DetailedStatistics
	stats.Clear()
	h.AddDetailedStatistics(&stats)

	require.Equal(t, segfits.DetailedStatistics{
		Statistics: segfits.Statistics{
			HeapCount:       1,
			HeapBytes:       304,
			AllocationCount: 0,
			AllocationBytes: 0,
		},
		FreeRangeCount:    1,
		AllocationSizeMin: math.MaxInt,
		AllocationSizeMax: 0,
		FreeRangeSizeMin:  144,
		FreeRangeSizeMax:  144,
	}, stats)

	p, err := h.Alloc(100)
	require.NoError(t, err)

	stats.Clear()
	h.AddDetailedStatistics(&stats)

	require.Equal(t, segfits.DetailedStatistics{
		Statistics: segfits.Statistics{
			HeapCount:       1,
			HeapBytes:       304,
			AllocationCount: 1,
			AllocationBytes: 144,
		},
		FreeRangeCount:    0,
		AllocationSizeMin: 144,
		AllocationSizeMax: 144,
		FreeRangeSizeMin:  math.MaxInt,
		FreeRangeSizeMax:  0,
	}, stats)

	var flat segfits.Statistics
	flat.Clear()
	h.AddStatistics(&flat)
	require.Equal(t, stats.Statistics, flat)

	h.Free(p)
}

func TestBuildStatsString(t *testing.T) {
	h := newTestHeap(t, 0)

	_, err := h.Alloc(100)
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(h.BuildStatsString(true)), &parsed))

	require.Equal(t, float64(304), parsed["TotalBytes"])
	require.Equal(t, float64(1), parsed["Allocations"])
	require.Equal(t, float64(144), parsed["AllocationBytes"])

	blocks, ok := parsed["Blocks"].([]any)
	require.True(t, ok)
	require.Len(t, blocks, 1)

	block, ok := blocks[0].(map[string]any)
	require.True(t, ok)
	require.Equal(t, true, block["Allocated"])
	require.Equal(t, float64(144), block["Size"])
}

func TestVisitBlocksStopsOnError(t *testing.T) {
	h := newTestHeap(t, 0)

	_, err := h.Alloc(32)
	require.NoError(t, err)

	sentinel := errors.New("stop")
	visited := 0
	err = h.VisitBlocks(func(offset, size int, allocated bool) error {
		visited++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 1, visited)
}

// TestRandomOpsSoak churns the heap with a deterministic mix of allocations,
// frees, and reallocations, validating the full set of invariants after every
// operation.
func TestRandomOpsSoak(t *testing.T) {
	h := newTestHeap(t, 0)
	rng := rand.New(rand.NewSource(42))

	type allocation struct {
		offset  int
		written int
		fill    byte
	}
	var live []allocation

	fillPayload := func(a *allocation) {
		payload := h.Payload(a.offset)
		for i := 0; i < a.written; i++ {
			payload[i] = a.fill
		}
	}
	checkPayload := func(a allocation) {
		payload := h.Payload(a.offset)
		for i := 0; i < a.written; i++ {
			require.Equal(t, a.fill, payload[i])
		}
	}

	for op := 0; op < 400; op++ {
		switch {
		case len(live) == 0 || rng.Intn(3) == 0:
			size := 1 + rng.Intn(600)
			p, err := h.Alloc(size)
			require.NoError(t, err)

			a := allocation{offset: p, written: size, fill: byte(0x40 + op%0x80)}
			fillPayload(&a)
			live = append(live, a)

		case rng.Intn(2) == 0:
			i := rng.Intn(len(live))
			checkPayload(live[i])
			h.Free(live[i].offset)
			live = append(live[:i], live[i+1:]...)

		default:
			i := rng.Intn(len(live))
			size := 1 + rng.Intn(1200)
			p, err := h.Realloc(live[i].offset, size)
			require.NoError(t, err)

			live[i].offset = p
			if size < live[i].written {
				live[i].written = size
			}
			checkPayload(live[i])
		}

		require.NoError(t, h.Validate())
		require.NoError(t, h.CheckCorruption())
	}

	for _, a := range live {
		checkPayload(a)
		h.Free(a.offset)
		require.NoError(t, h.Validate())
	}

	require.Zero(t, h.AllocationCount())
	require.Equal(t, 1, h.FreeRegionsCount())
}
