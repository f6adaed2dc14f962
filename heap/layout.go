package heap

import (
	"encoding/binary"
	"math"

	"github.com/vkngwrapper/mmheap"
)

const (
	wordSize       = 4
	doubleWordSize = 8

	// Overhead is the number of bytes of boundary tag carried by every block: one header word and
	// one footer word
	Overhead = doubleWordSize
	// MinBlockSize is the smallest block the heap will create. A free block must be able to hold its
	// header, its footer and the two free-list links stored in its payload.
	MinBlockSize = 2 * doubleWordSize
	// DefaultChunkSize is the number of bytes the heap grows by when it runs out of free blocks and
	// the request does not need more
	DefaultChunkSize = 1 << 12

	allocatedBit uint32 = 0x1
	reservedBits uint32 = 0x6

	// maxBlockSize and maxHeapBytes keep every offset representable in a 32-bit tag and in an int
	// on 32-bit platforms
	maxBlockSize = math.MaxInt32 &^ 0x7
	maxHeapBytes = math.MaxInt32

	// sentinelBytes is the padding word, prologue header, prologue footer and initial epilogue header
	sentinelBytes = 4 * wordSize
)

// Pointer is the offset of a block's payload within the heap's backing region. The zero Pointer
// never refers to a block.
type Pointer int

// Nil is the Pointer returned when there is nothing to allocate
const Nil Pointer = 0

func pack(size int, allocated bool) uint32 {
	tag := uint32(size)
	if allocated {
		tag |= allocatedBit
	}
	return tag
}

func tagSize(tag uint32) int {
	return int(tag &^ (allocatedBit | reservedBits))
}

func tagAllocated(tag uint32) bool {
	return tag&allocatedBit != 0
}

func header(bp int) int {
	return bp - wordSize
}

func (h *Heap) word(offset int) uint32 {
	mmheap.DebugCheckRange(offset, wordSize, len(h.data))
	return binary.LittleEndian.Uint32(h.data[offset:])
}

func (h *Heap) setWord(offset int, value uint32) {
	mmheap.DebugCheckRange(offset, wordSize, len(h.data))
	binary.LittleEndian.PutUint32(h.data[offset:], value)
}

func (h *Heap) blockSize(bp int) int {
	return tagSize(h.word(header(bp)))
}

func (h *Heap) isAllocated(bp int) bool {
	return tagAllocated(h.word(header(bp)))
}

func (h *Heap) footer(bp int) int {
	return bp + h.blockSize(bp) - doubleWordSize
}

// nextBlock returns the payload offset of the block physically following bp. For the last block
// this is the epilogue, whose header reads as an allocated block of size 0.
func (h *Heap) nextBlock(bp int) int {
	return bp + h.blockSize(bp)
}

// prevBlock returns the payload offset of the block physically preceding bp, found through that
// block's footer
func (h *Heap) prevBlock(bp int) int {
	return bp - tagSize(h.word(bp-doubleWordSize))
}

func (h *Heap) prevAllocated(bp int) bool {
	return tagAllocated(h.word(bp - doubleWordSize))
}

// writeTags writes identical header and footer words for a block of the given size
func (h *Heap) writeTags(bp, size int, allocated bool) {
	tag := pack(size, allocated)
	h.setWord(header(bp), tag)
	h.setWord(bp+size-doubleWordSize, tag)
}

func (h *Heap) payloadSize(bp int) int {
	return h.blockSize(bp) - Overhead
}

// adjustedSize converts a request in bytes into the block size needed to satisfy it
func adjustedSize(size int) (int, bool) {
	if size > maxBlockSize-Overhead {
		return 0, false
	}

	if size <= doubleWordSize {
		return MinBlockSize, true
	}

	return mmheap.AlignUp(size+Overhead, mmheap.Alignment), true
}
