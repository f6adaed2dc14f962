package heap

import "fmt"

// Free blocks carry their list links in the first two words of their payload: the previous
// entry's offset at bp and the next entry's offset at bp+4. Zero terminates the list in both
// directions.

func (h *Heap) prevFree(bp int) int {
	return int(h.word(bp))
}

func (h *Heap) nextFree(bp int) int {
	return int(h.word(bp + wordSize))
}

func (h *Heap) setLinks(bp, prev, next int) {
	h.setWord(bp, uint32(prev))
	h.setWord(bp+wordSize, uint32(next))
}

// isBlockOffset reports whether bp could be the payload offset of a block with room for its links
// between the prologue and the epilogue
func (h *Heap) isBlockOffset(bp int) bool {
	return bp >= h.firstBlock() &&
		bp%doubleWordSize == 0 &&
		bp+MinBlockSize-wordSize <= len(h.data)-wordSize
}

// followLink validates a link before it is dereferenced, so a corrupted list is reported where it
// is found instead of scribbling over some unrelated block
func (h *Heap) followLink(from, to int, direction string) int {
	if to == 0 {
		return 0
	}

	if !h.isBlockOffset(to) {
		panic(fmt.Sprintf("free block at offset %d has a %s link to offset %d, which is outside the heap", from, direction, to))
	}

	if h.isAllocated(to) {
		panic(fmt.Sprintf("free block at offset %d has a %s link to offset %d, which is not free", from, direction, to))
	}

	return to
}

// insertFree pushes bp onto the head of the free list
func (h *Heap) insertFree(bp int) {
	if h.isAllocated(bp) {
		panic(fmt.Sprintf("block at offset %d cannot enter the free list because it is allocated", bp))
	}

	oldHead := h.followLink(bp, h.root, "root")
	if oldHead == bp {
		panic(fmt.Sprintf("block at offset %d is already the head of the free list", bp))
	}

	if oldHead != 0 {
		h.setWord(oldHead, uint32(bp))
	}

	h.setLinks(bp, 0, oldHead)
	h.root = bp
}

// removeFree unlinks bp from the free list and clears its links
func (h *Heap) removeFree(bp int) {
	if h.isAllocated(bp) {
		panic(fmt.Sprintf("block at offset %d cannot leave the free list because it is not free", bp))
	}

	prev := h.followLink(bp, h.prevFree(bp), "previous")
	next := h.followLink(bp, h.nextFree(bp), "next")

	switch {
	case prev != 0 && next != 0:
		// Interior
		h.setWord(next, uint32(prev))
		h.setWord(prev+wordSize, uint32(next))
	case prev != 0:
		// Tail
		h.setWord(prev+wordSize, 0)
	case next != 0:
		// Head
		if h.root != bp {
			panic(fmt.Sprintf("block at offset %d has no previous link but the list root is %d", bp, h.root))
		}
		h.setWord(next, 0)
		h.root = next
	default:
		// Singleton
		if h.root != bp {
			panic(fmt.Sprintf("block at offset %d has no links but the list root is %d", bp, h.root))
		}
		h.root = 0
	}

	h.setLinks(bp, 0, 0)
}
