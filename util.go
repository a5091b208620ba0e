package segfits

import (
	cerrors "github.com/cockroachdb/errors"
)

// Number covers the integer types used for sizes and offsets within a heap region.
type Number interface {
	~int | ~uint
}

// CheckPow2 returns PowerOfTwoError if number is not a power of two. The name
// parameter identifies the offending value in the error message.
func CheckPow2[T Number](number T, name string) error {
	if number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the nearest multiple of alignment. alignment must be
// a power of two.
func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

// AlignDown rounds value down to the nearest multiple of alignment. alignment must
// be a power of two.
func AlignDown(value int, alignment uint) int {
	return value & int(^(alignment - 1))
}
