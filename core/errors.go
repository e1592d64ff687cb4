package core

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned for bad build-time parameters, such as an
	// empty dataset or a dimension without a valid quantization factor.
	ErrConfiguration = errors.New("configuration error")

	// ErrNotBuilt is returned when an index is queried or saved before it was
	// built or restored.
	ErrNotBuilt = errors.New("index not built")

	// ErrInvalidArgument is returned for malformed call arguments, such as a
	// dimension mismatch or a non-positive k.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPersistence is returned when a snapshot cannot be written, read or
	// verified, or belongs to a different backend.
	ErrPersistence = errors.New("persistence error")
)

// DimensionMismatchError indicates a vector whose length differs from the
// dimension of the index. It matches ErrInvalidArgument with errors.Is.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrInvalidArgument
}

// CheckQuery validates a query vector and k against an index of dimension dim.
func CheckQuery(query []float32, dim, k int) error {
	if len(query) != dim {
		return &DimensionMismatchError{Expected: dim, Actual: len(query)}
	}
	if k <= 0 {
		return fmt.Errorf("%w: k must be positive, got %d", ErrInvalidArgument, k)
	}
	return nil
}

// ClampK limits k to the number of indexed rows.
func ClampK(k, n int) int {
	if k > n {
		return n
	}
	return k
}
