package segfits

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// OutOfMemoryError is the error returned when the underlying memory region cannot be extended any further.
// It is permanent: retrying the failed operation against the same region will fail again.
var OutOfMemoryError error = errors.New("memory region exhausted")
