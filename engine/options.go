package engine

import (
	"log"

	"github.com/najoast/lifegrid/grid"
)

const (
	// MinPow is the smallest board exponent; a 4x4 board is the smallest
	// that holds the glider clear of the border
	MinPow = 2

	// MaxPow is the largest board exponent
	MaxPow = 30
)

// Options configure how a rank runs each board size
type Options struct {
	// Threads is the size of the kernel's thread team, 0 means one per CPU
	Threads int

	// StepsPerUnit and StepOffset give StepsPerUnit*(size-StepOffset)
	// generations per board
	StepsPerUnit int
	StepOffset   int

	// Generations overrides the formula when positive
	Generations int

	// Verify gathers the final board at rank 0 and checks it against the
	// glider's expected position
	Verify bool

	// MaxCells caps a single grid buffer
	MaxCells int

	// Logger receives per-size progress, nil keeps the engine quiet
	Logger *log.Logger

	// OnStep, when set, is called on every rank after each generation with
	// the band the rank now holds
	OnStep func(p Partition, generation int, current *grid.Grid)
}

// DefaultOptions returns the options of the reference run: 2*(size-3)
// generations per board
func DefaultOptions() Options {
	return Options{
		StepsPerUnit: 2,
		StepOffset:   3,
		MaxCells:     grid.DefaultMaxCells,
	}
}

// Steps returns the number of generations to run on a size x size board
func (o Options) Steps(size int) int {
	if o.Generations > 0 {
		return o.Generations
	}
	n := o.StepsPerUnit * (size - o.StepOffset)
	if n < 0 {
		return 0
	}
	return n
}

// Validate checks the options
func (o Options) Validate() error {
	if o.Threads < 0 {
		return configError("threads must not be negative, got %d", o.Threads)
	}
	if o.Generations < 0 {
		return configError("generations must not be negative, got %d", o.Generations)
	}
	if o.Generations == 0 && o.StepsPerUnit <= 0 {
		return configError("steps per unit must be positive, got %d", o.StepsPerUnit)
	}
	if o.MaxCells <= 0 {
		return configError("max cells must be positive, got %d", o.MaxCells)
	}
	return nil
}

// Sizes returns the board sizes 2^powMin through 2^powMax
func Sizes(powMin, powMax int) ([]int, error) {
	if powMin < MinPow || powMax > MaxPow {
		return nil, configError("powers must lie in [%d, %d], got %d..%d", MinPow, MaxPow, powMin, powMax)
	}
	if powMin > powMax {
		return nil, configError("powmin %d is greater than powmax %d", powMin, powMax)
	}

	sizes := make([]int, 0, powMax-powMin+1)
	for pow := powMin; pow <= powMax; pow++ {
		sizes = append(sizes, 1<<pow)
	}
	return sizes, nil
}
