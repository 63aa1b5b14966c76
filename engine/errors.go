package engine

import (
	"errors"
	"fmt"

	"github.com/najoast/lifegrid/comm"
	"github.com/najoast/lifegrid/grid"
)

var (
	// ErrConfiguration marks missing or invalid job parameters
	ErrConfiguration = errors.New("invalid configuration")

	// ErrAllocation marks a grid buffer that could not be allocated
	ErrAllocation = grid.ErrAllocation

	// ErrCommunication marks a failed exchange between ranks
	ErrCommunication = comm.ErrCommunication
)

// PartitionError reports a board that cannot be split evenly across ranks
type PartitionError struct {
	Size  int
	Ranks int
}

// Error implements the error interface
func (e *PartitionError) Error() string {
	return fmt.Sprintf("size %d is not divisible by %d ranks", e.Size, e.Ranks)
}

// configError wraps ErrConfiguration with a reason
func configError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
