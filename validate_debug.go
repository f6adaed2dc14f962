//go:build debug_mmheap

package mmheap

import "fmt"

// DebugEnabled is true when the debug_mmheap build tag is present
const DebugEnabled = true

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_mmheap build tag is present
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}

// DebugCheckRange verifies that the width bytes starting at offset lie within [0, limit), and panics
// if they do not. This method no-ops unless the debug_mmheap build tag is present.
func DebugCheckRange(offset, width, limit int) {
	if offset < 0 || width < 0 || offset+width > limit {
		panic(fmt.Sprintf("heap access out of bounds: offset %d width %d limit %d", offset, width, limit))
	}
}
