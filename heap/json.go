package heap

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/mmheap"
)

const (
	blockTypeFree      = "FREE"
	blockTypeAllocated = "ALLOCATED"
)

// PrintDetailedMap writes a JSON object describing the heap: totals, every block in address order
// and the free list in list order. It walks the whole heap and is meant for diagnostics.
func (h *Heap) PrintDetailedMap(writer *jwriter.Writer) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	obj := writer.Object()
	defer obj.End()

	var stats mmheap.DetailedStatistics
	stats.Clear()
	h.addDetailedStatistics(&stats)

	obj.Name("TotalBytes").Int(stats.HeapBytes)
	obj.Name("UnusedBytes").Int(stats.FreeBytes)
	obj.Name("Allocations").Int(stats.AllocationCount)
	obj.Name("UnusedRanges").Int(stats.FreeBlockCount)

	h.printDetailedMapBlocks(&obj)
	h.printDetailedMapFreeList(&obj)
}

func (h *Heap) printDetailedMapBlocks(json *jwriter.ObjectState) {
	arrayState := json.Name("Blocks").Array()
	defer arrayState.End()

	_ = h.visitAllBlocks(func(p Pointer, size int, free bool) error {
		obj := arrayState.Object()
		defer obj.End()

		obj.Name("Offset").Int(int(p))
		if free {
			obj.Name("Type").String(blockTypeFree)
		} else {
			obj.Name("Type").String(blockTypeAllocated)
		}
		obj.Name("Size").Int(size)

		return nil
	})
}

func (h *Heap) printDetailedMapFreeList(json *jwriter.ObjectState) {
	arrayState := json.Name("FreeList").Array()
	defer arrayState.End()

	if !h.initialized {
		return
	}

	for bp := h.root; bp != 0; bp = h.nextFree(bp) {
		arrayState.Int(bp)
	}
}
