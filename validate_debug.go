//go:build debug_segfits

package segfits

import "encoding/binary"

const (
	// DebugMargin is the number of guard bytes placed at the end of each live
	// payload in heaps managed by segfits
	DebugMargin int = 16
	// corruptionDetectionMagicValue is a 4-byte pattern that is copied across the
	// guard bytes of every live payload
	corruptionDetectionMagicValue uint32 = 0x5E6F1175
)

// WriteMagicValue writes an easy-to-identify marker across DebugMargin bytes of the
// provided region, starting at offset. This method no-ops unless the debug_segfits
// build tag is present.
func WriteMagicValue(region []byte, offset int) {
	for i := 0; i < DebugMargin; i += 4 {
		binary.LittleEndian.PutUint32(region[offset+i:], corruptionDetectionMagicValue)
	}
}

// ValidateMagicValue verifies that the marker written by WriteMagicValue is still
// present at offset. It returns true if the value is still present and false otherwise.
// This method no-ops unless the debug_segfits build tag is present.
func ValidateMagicValue(region []byte, offset int) bool {
	for i := 0; i < DebugMargin; i += 4 {
		if binary.LittleEndian.Uint32(region[offset+i:]) != corruptionDetectionMagicValue {
			return false
		}
	}

	return true
}

// DebugValidate will call Validate on the provided object and panics if any errors
// are returned. This method no-ops unless the debug_segfits build tag is present.
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}

// DebugCheckPow2 will verify that the numerical value passed in is a power of two,
// and panics if it is not. This method no-ops unless the debug_segfits build tag
// is present.
func DebugCheckPow2[T Number](value T, name string) {
	err := CheckPow2[T](value, name)
	if err != nil {
		panic(err)
	}
}
