// Package heap implements a dynamic memory allocator over a single growable region. Blocks carry
// boundary tags (a header and footer word holding the block size and an allocated bit), free
// blocks are threaded onto an explicit LIFO list through their own payloads, allocation is
// first-fit and every free is fully coalesced with its physical neighbours.
//
// A Heap is not safe for concurrent use unless it was created with CreateSynchronized.
package heap

import (
	"io"
	"strings"

	cerrors "github.com/cockroachdb/errors"
	"github.com/vkngwrapper/mmheap"
	"github.com/vkngwrapper/mmheap/brk"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific heap behaviors to activate or deactivate
type CreateFlags uint32

const (
	// CreateSynchronized wraps every public operation of the heap in a single mutex. Without it the
	// consumer must guarantee that the heap is used from one goroutine at a time.
	CreateSynchronized CreateFlags = 1 << iota
)

var createFlagsMapping = map[CreateFlags]string{
	CreateSynchronized: "CreateSynchronized",
}

func (f CreateFlags) String() string {
	if f == 0 {
		return "None"
	}

	var names []string
	for flag, name := range createFlagsMapping {
		if f&flag != 0 {
			names = append(names, name)
		}
	}
	return strings.Join(names, "|")
}

// CreateOptions contains optional settings when creating a heap. It is valid to leave all the
// fields blank.
type CreateOptions struct {
	// Flags indicates specific heap behaviors to activate or deactivate
	Flags CreateFlags
	// ChunkSize is the minimum number of bytes the heap grows by when no free block fits a request,
	// and the size of the first extension made by Init. It must be a power of two of at least
	// MinBlockSize. DefaultChunkSize is used when it is 0.
	ChunkSize int
	// Grower is the region the heap lives in. A new brk.Region of brk.DefaultMaxHeap bytes is used
	// when it is nil. The heap must be the only thing that grows the region: growth that does not
	// start at the end of the heap fails with mmheap.ErrBreakMoved.
	Grower brk.Grower
}

// Heap is an allocator context. All of its state lives in the Heap value and its backing region,
// so independent heaps can be created freely.
type Heap struct {
	logger    *slog.Logger
	grower    brk.Grower
	mutex     optionalMutex
	chunkSize int
	flags     CreateFlags

	data        []byte
	base        int
	root        int
	initialized bool
}

// New creates a heap. The heap lays down its sentinels when Init is called or, failing that, on
// the first call to Malloc.
//
// logger - Debug records are written when the heap grows and Error records when Validate finds
// corruption. A nil logger discards everything.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, options CreateOptions) (*Heap, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard))
	}

	chunkSize := options.ChunkSize
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}

	err := mmheap.CheckPow2(chunkSize, "CreateOptions.ChunkSize")
	if err != nil {
		return nil, err
	}
	if chunkSize < MinBlockSize {
		return nil, cerrors.Wrapf(mmheap.ErrInvalidSize, "CreateOptions.ChunkSize is %d but must be at least %d", chunkSize, MinBlockSize)
	}

	grower := options.Grower
	if grower == nil {
		grower = brk.NewRegion(brk.DefaultMaxHeap)
	}

	return &Heap{
		logger:    logger,
		grower:    grower,
		mutex:     optionalMutex{useMutex: options.Flags&CreateSynchronized != 0},
		chunkSize: chunkSize,
		flags:     options.Flags,
	}, nil
}

// Init lays down the prologue and epilogue sentinels and grows the heap by one chunk. It returns
// mmheap.ErrAlreadyInitialized if the sentinels are already in place, and an error wrapping
// mmheap.ErrOutOfMemory if the backing region cannot supply the bytes. If only the initial chunk
// could not be supplied, the sentinels remain in place and later allocations will retry growth.
// A backing region whose break is not aligned to mmheap.Alignment is rejected before any bytes
// are taken from it.
func (h *Heap) Init() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.init()
}

func (h *Heap) init() error {
	if h.initialized {
		return mmheap.ErrAlreadyInitialized
	}

	regionBreak := h.grower.Break()
	if !mmheap.IsAligned(regionBreak, mmheap.Alignment) {
		return cerrors.Newf("backing region break %d is not %d-byte aligned", regionBreak, mmheap.Alignment)
	}

	start, err := h.grower.Grow(sentinelBytes)
	if err != nil {
		return cerrors.Wrap(err, "failed to lay down heap sentinels")
	}
	if start != regionBreak {
		return cerrors.Wrapf(mmheap.ErrBreakMoved, "region break was %d but grew from %d", regionBreak, start)
	}
	h.data = h.grower.Bytes()
	h.base = start

	h.setWord(start, 0)
	h.setWord(start+wordSize, pack(doubleWordSize, true))
	h.setWord(start+2*wordSize, pack(doubleWordSize, true))
	h.setWord(start+3*wordSize, pack(0, true))
	h.root = 0
	h.initialized = true

	h.logger.Debug("Heap::init", slog.Int("Base", start), slog.Int("ChunkSize", h.chunkSize))

	_, err = h.extendHeap(h.chunkSize / wordSize)
	return err
}

// prologue returns the payload offset of the prologue block
func (h *Heap) prologue() int {
	return h.base + doubleWordSize
}

// firstBlock returns the payload offset of the first block after the prologue
func (h *Heap) firstBlock() int {
	return h.base + 2*doubleWordSize
}

// Malloc allocates a block with room for at least size bytes of payload and returns its offset,
// which is always aligned to mmheap.Alignment. A size of 0 returns Nil and no error. An error
// wrapping mmheap.ErrOutOfMemory is returned when the heap cannot grow to satisfy the request.
func (h *Heap) Malloc(size int) (Pointer, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	p, err := h.malloc(size)
	if mmheap.DebugEnabled {
		mmheap.DebugValidate(validateFunc(h.validate))
	}
	return p, err
}

func (h *Heap) malloc(size int) (Pointer, error) {
	if size < 0 {
		return Nil, cerrors.Wrapf(mmheap.ErrInvalidSize, "cannot allocate %d bytes", size)
	}
	if size == 0 {
		return Nil, nil
	}

	if !h.initialized {
		err := h.init()
		if err != nil {
			return Nil, err
		}
	}

	asize, ok := adjustedSize(size)
	if !ok {
		return Nil, cerrors.Wrapf(mmheap.ErrOutOfMemory, "a request for %d bytes is larger than the largest possible block", size)
	}

	bp := h.findFit(asize)
	if bp != 0 {
		h.place(bp, asize)
		return Pointer(bp), nil
	}

	bp, err := h.extendHeap(max(asize, h.chunkSize) / wordSize)
	if err != nil {
		return Nil, err
	}

	h.place(bp, asize)
	return Pointer(bp), nil
}

// place allocates asize bytes at the start of the free block bp. The rest of the block is split off
// as a new free block when it is at least MinBlockSize bytes, otherwise the whole block is allocated.
func (h *Heap) place(bp, asize int) {
	size := h.blockSize(bp)
	remainder := size - asize

	h.removeFree(bp)

	if remainder >= MinBlockSize {
		h.writeTags(bp, asize, true)

		rest := bp + asize
		h.writeTags(rest, remainder, false)
		h.setLinks(rest, 0, 0)
		h.coalesce(rest)
	} else {
		h.writeTags(bp, size, true)
	}
}

// Free returns the block at p to the heap. Freeing Nil does nothing. p must have been returned by
// Malloc or Realloc on this heap and not freed since; anything else is undefined behavior and is
// not detected.
func (h *Heap) Free(p Pointer) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.free(p)
	if mmheap.DebugEnabled {
		mmheap.DebugValidate(validateFunc(h.validate))
	}
}

func (h *Heap) free(p Pointer) {
	if p == Nil {
		return
	}

	bp := int(p)
	size := h.blockSize(bp)

	h.setLinks(bp, 0, 0)
	h.writeTags(bp, size, false)
	h.coalesce(bp)
}

// Realloc resizes the block at p so it holds at least size bytes of payload.
//
// A Nil p behaves exactly as Malloc(size). A size of 0 behaves exactly as Free(p) and returns Nil.
// If the block is already large enough, p is returned unchanged and the block is not shrunk. If
// the physically following block is free and the two together are large enough, the neighbour is
// absorbed and p is returned without copying. Otherwise a new block is allocated, the old payload
// is copied into it (up to the smaller of the two payload sizes) and the old block is freed.
//
// If the heap cannot grow, an error wrapping mmheap.ErrOutOfMemory is returned and the block at p
// is left untouched.
func (h *Heap) Realloc(p Pointer, size int) (Pointer, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	newP, err := h.realloc(p, size)
	if mmheap.DebugEnabled {
		mmheap.DebugValidate(validateFunc(h.validate))
	}
	return newP, err
}

func (h *Heap) realloc(p Pointer, size int) (Pointer, error) {
	if p == Nil {
		return h.malloc(size)
	}
	if size == 0 {
		h.free(p)
		return Nil, nil
	}
	if size < 0 {
		return Nil, cerrors.Wrapf(mmheap.ErrInvalidSize, "cannot reallocate to %d bytes", size)
	}

	bp := int(p)
	oldSize := h.blockSize(bp)

	asize, ok := adjustedSize(size)
	if !ok {
		return Nil, cerrors.Wrapf(mmheap.ErrOutOfMemory, "a request for %d bytes is larger than the largest possible block", size)
	}

	if asize <= oldSize {
		return p, nil
	}

	next := h.nextBlock(bp)
	if !h.isAllocated(next) {
		combined := oldSize + h.blockSize(next)
		if combined >= asize {
			h.removeFree(next)
			h.writeTags(bp, combined, true)
			return p, nil
		}
	}

	newP, err := h.malloc(size)
	if err != nil {
		return Nil, err
	}

	newBp := int(newP)
	copy(h.data[newBp:newBp+h.payloadSize(newBp)], h.data[bp:bp+h.payloadSize(bp)])
	h.free(p)

	return newP, nil
}

// Bytes returns the payload of the allocated block at p, or nil for Nil. The slice is only valid
// until the next call that may grow the heap.
func (h *Heap) Bytes(p Pointer) []byte {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if p == Nil {
		return nil
	}

	bp := int(p)
	end := bp + h.payloadSize(bp)
	return h.data[bp:end:end]
}

// PayloadSize returns the number of payload bytes the block at p can hold, which may exceed the
// size that was requested for it. Nil holds 0 bytes.
func (h *Heap) PayloadSize(p Pointer) int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if p == Nil {
		return 0
	}

	return h.payloadSize(int(p))
}

// HeapSize returns the number of bytes the heap has taken from its backing region
func (h *Heap) HeapSize() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return len(h.data) - h.base
}

// Base returns the offset within the backing region at which the heap's sentinels begin. Every
// Pointer lies between Base and Base+HeapSize.
func (h *Heap) Base() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.base
}

// Initialized returns true once the heap's sentinels are in place
func (h *Heap) Initialized() bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.initialized
}

// FreeBlockCount returns the length of the free list
func (h *Heap) FreeBlockCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	count := 0
	for bp := h.root; bp != 0; bp = h.nextFree(bp) {
		count++
	}
	return count
}

// Flags returns the flags the heap was created with
func (h *Heap) Flags() CreateFlags {
	return h.flags
}
