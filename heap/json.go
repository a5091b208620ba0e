package heap

import (
	"github.com/barblog/segfits"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// BuildStatsString returns a JSON description of the heap for diagnostics. The
// top level carries the totals; when detailed is true a "Blocks" array lists
// every block in physical order.
func (h *Heap) BuildStatsString(detailed bool) string {
	writer := jwriter.NewWriter()

	obj := writer.Object()
	h.heapJsonData(obj)

	if detailed {
		blocks := obj.Name("Blocks").Array()
		_ = h.VisitBlocks(func(offset, size int, allocated bool) error {
			blockObj := blocks.Object()
			blockObj.Name("Offset").Int(offset)
			blockObj.Name("Size").Int(size)
			blockObj.Name("Allocated").Bool(allocated)
			blockObj.End()
			return nil
		})
		blocks.End()
	}

	obj.End()

	return string(writer.Bytes())
}

// heapJsonData populates a json object with this heap's usage totals.
func (h *Heap) heapJsonData(json jwriter.ObjectState) {
	var stats segfits.DetailedStatistics
	stats.Clear()
	h.AddDetailedStatistics(&stats)

	json.Name("TotalBytes").Int(h.mem.Size())
	json.Name("FreeBytes").Int(h.freeBytes)
	json.Name("Allocations").Int(stats.AllocationCount)
	json.Name("FreeRanges").Int(stats.FreeRangeCount)
	json.Name("AllocationBytes").Int(stats.AllocationBytes)
}
