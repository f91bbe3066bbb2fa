package plan

import "fmt"

// InvalidTilingError reports a configuration that violates the divisibility
// or thread-count invariants. Non-retryable: the caller must supply a
// different configuration.
type InvalidTilingError struct {
	Reason string
}

func (e *InvalidTilingError) Error() string {
	return fmt.Sprintf("invalid tiling: %s", e.Reason)
}

// DimensionMismatchError reports an operand whose shape disagrees with the
// problem dimensions the plan was built for.
type DimensionMismatchError struct {
	Operand  string // "A", "B" or "C"
	WantRows int
	WantCols int
	GotRows  int
	GotCols  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("operand %s: want %dx%d, got %dx%d",
		e.Operand, e.WantRows, e.WantCols, e.GotRows, e.GotCols)
}

// ResourceExceededError reports a plan whose footprint exceeds a device
// capacity limit. Non-retryable for the same configuration.
type ResourceExceededError struct {
	Resource  string
	Requested uint64
	Limit     uint64
}

func (e *ResourceExceededError) Error() string {
	return fmt.Sprintf("%s: requested %d exceeds device limit %d",
		e.Resource, e.Requested, e.Limit)
}
