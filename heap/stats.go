package heap

import "github.com/vkngwrapper/mmheap"

// VisitAllBlocks calls handleBlock once for every block between the prologue and the epilogue, in
// address order. size includes the boundary tags. Iteration stops at the first error, which is
// returned.
func (h *Heap) VisitAllBlocks(handleBlock func(p Pointer, size int, free bool) error) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.visitAllBlocks(handleBlock)
}

func (h *Heap) visitAllBlocks(handleBlock func(p Pointer, size int, free bool) error) error {
	if !h.initialized {
		return nil
	}

	for bp := h.firstBlock(); h.blockSize(bp) > 0; bp = h.nextBlock(bp) {
		err := handleBlock(Pointer(bp), h.blockSize(bp), !h.isAllocated(bp))
		if err != nil {
			return err
		}
	}

	return nil
}

// AddStatistics sums this heap's statistics into the statistics currently present in stats
func (h *Heap) AddStatistics(stats *mmheap.Statistics) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	stats.HeapBytes += len(h.data) - h.base
	_ = h.visitAllBlocks(func(p Pointer, size int, free bool) error {
		if free {
			stats.FreeBlockCount++
			stats.FreeBytes += size
		} else {
			stats.AllocationCount++
			stats.AllocationBytes += size
		}
		return nil
	})
}

// AddDetailedStatistics sums this heap's statistics into the statistics currently present in stats.
// stats must have been cleared with DetailedStatistics.Clear before it was first populated.
func (h *Heap) AddDetailedStatistics(stats *mmheap.DetailedStatistics) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.addDetailedStatistics(stats)
}

func (h *Heap) addDetailedStatistics(stats *mmheap.DetailedStatistics) {
	stats.HeapBytes += len(h.data) - h.base
	_ = h.visitAllBlocks(func(p Pointer, size int, free bool) error {
		if free {
			stats.AddFreeBlock(size)
		} else {
			stats.AddAllocation(size)
		}
		return nil
	})
}
