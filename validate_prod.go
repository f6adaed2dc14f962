//go:build !debug_mmheap

package mmheap

// DebugEnabled is true when the debug_mmheap build tag is present
const DebugEnabled = false

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_mmheap build tag is present
func DebugValidate(validatable Validatable) {
}

// DebugCheckRange verifies that the width bytes starting at offset lie within [0, limit), and panics
// if they do not. This method no-ops unless the debug_mmheap build tag is present.
func DebugCheckRange(offset, width, limit int) {
}
