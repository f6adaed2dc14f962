package mmheap

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

const (
	// Alignment is the byte alignment of every block size and every payload offset handed
	// out by the heap
	Alignment uint = 8
)

// CheckPow2 returns an error wrapping ErrPowerOfTwo if number is not a power of two
func CheckPow2[T constraints.Integer](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(ErrPowerOfTwo, "%s is %d", name, number)
	}
	return nil
}

func AlignUp[T constraints.Integer](value T, alignment uint) T {
	return (value + T(alignment) - 1) &^ (T(alignment) - 1)
}

func AlignDown[T constraints.Integer](value T, alignment uint) T {
	return value &^ (T(alignment) - 1)
}

// IsAligned returns true if value is a multiple of alignment, which must be a power of two
func IsAligned[T constraints.Integer](value T, alignment uint) bool {
	return value&(T(alignment)-1) == 0
}

// Validatable is anything that can run its own consistency checks, such as a heap. DebugValidate
// acts on it when the debug_mmheap build tag is present.
type Validatable interface {
	Validate() error
}
