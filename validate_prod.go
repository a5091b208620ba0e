//go:build !debug_segfits

package segfits

const (
	// DebugMargin is the number of guard bytes placed at the end of each live
	// payload in heaps managed by segfits
	DebugMargin int = 0
)

// WriteMagicValue writes an easy-to-identify marker across DebugMargin bytes of the
// provided region, starting at offset. This method no-ops unless the debug_segfits
// build tag is present.
func WriteMagicValue(region []byte, offset int) {
}

// ValidateMagicValue verifies that the marker written by WriteMagicValue is still
// present at offset. It returns true if the value is still present and false otherwise.
// This method no-ops unless the debug_segfits build tag is present.
func ValidateMagicValue(region []byte, offset int) bool {
	return true
}

// DebugValidate will call Validate on the provided object and panics if any errors
// are returned. This method no-ops unless the debug_segfits build tag is present.
func DebugValidate(validatable Validatable) {
}

// DebugCheckPow2 will verify that the numerical value passed in is a power of two,
// and panics if it is not. This method no-ops unless the debug_segfits build tag
// is present.
func DebugCheckPow2[T Number](value T, name string) {
}
