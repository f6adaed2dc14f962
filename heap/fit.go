package heap

// findFit walks the free list from the head and returns the first block of at least asize bytes,
// or 0 if there is none. The walk is linear in the length of the free list.
func (h *Heap) findFit(asize int) int {
	for bp := h.followLink(0, h.root, "root"); bp != 0; bp = h.followLink(bp, h.nextFree(bp), "next") {
		if h.blockSize(bp) >= asize {
			return bp
		}
	}

	return 0
}
