package heap

// coalesce merges the free block bp with whichever physical neighbours are also free, pushes the
// result onto the free list and returns its payload offset. bp must not be in the free list.
func (h *Heap) coalesce(bp int) int {
	prevAllocated := h.prevAllocated(bp)
	next := h.nextBlock(bp)
	nextAllocated := h.isAllocated(next)
	size := h.blockSize(bp)

	switch {
	case prevAllocated && nextAllocated:
		// Nothing to merge

	case prevAllocated && !nextAllocated:
		h.removeFree(next)
		size += h.blockSize(next)
		h.writeTags(bp, size, false)

	case !prevAllocated && nextAllocated:
		prev := h.prevBlock(bp)
		h.removeFree(prev)
		size += h.blockSize(prev)
		bp = prev
		h.writeTags(bp, size, false)

	default:
		prev := h.prevBlock(bp)
		h.removeFree(prev)
		h.removeFree(next)
		size += h.blockSize(prev) + h.blockSize(next)
		bp = prev
		h.writeTags(bp, size, false)
	}

	h.insertFree(bp)
	return bp
}
