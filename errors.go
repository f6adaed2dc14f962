package mmheap

import "github.com/pkg/errors"

var (
	// ErrOutOfMemory is returned when the backing region cannot supply the bytes a heap operation needs.
	// It is never retried by the heap; a caller may retry later if external conditions change.
	ErrOutOfMemory error = errors.New("out of memory")
	// ErrAlreadyInitialized is returned from Init when the heap's sentinels have already been laid down
	ErrAlreadyInitialized error = errors.New("heap is already initialized")
	// ErrPowerOfTwo is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
	ErrPowerOfTwo error = errors.New("number must be a power of two")
	// ErrBreakMoved is returned when a backing region grows from somewhere other than the end of the
	// heap, which happens when something else has grown the region in the meantime
	ErrBreakMoved error = errors.New("backing region break moved outside the heap")
	// ErrInvalidSize is returned when a size parameter is negative or otherwise unusable
	ErrInvalidSize error = errors.New("invalid size")
)
