// Package stencil computes Game of Life generations over a padded grid band
package stencil

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/najoast/lifegrid/grid"
)

// Rule returns the next state of a cell: birth on exactly three live
// neighbours, survival on two or three.
func Rule(alive bool, neighbours int) bool {
	return neighbours == 3 || (alive && neighbours == 2)
}

// Band is a half-open range of interior rows [Lo, Hi)
type Band struct {
	Lo int
	Hi int
}

// Bands splits rows 1..rows into at most parts contiguous bands. The first
// rows%parts bands get one extra row.
func Bands(rows, parts int) []Band {
	if parts > rows {
		parts = rows
	}
	if parts < 1 {
		parts = 1
	}

	per, extra := rows/parts, rows%parts
	bands := make([]Band, 0, parts)
	lo := 1
	for t := 0; t < parts; t++ {
		n := per
		if t < extra {
			n++
		}
		bands = append(bands, Band{Lo: lo, Hi: lo + n})
		lo += n
	}
	return bands
}

// Kernel advances a band by one generation using a fixed team of goroutines
type Kernel struct {
	threads int
}

// NewKernel creates a kernel; threads <= 0 means one per CPU
func NewKernel(threads int) *Kernel {
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	return &Kernel{threads: threads}
}

// Threads returns the team size
func (k *Kernel) Threads() int {
	return k.threads
}

// Step writes the successor of every interior cell of cur into next.
// cur must have valid ghost rows. It returns once every cell of next is
// written.
func (k *Kernel) Step(cur, next *grid.Grid) error {
	if cur == next {
		return fmt.Errorf("stencil: current and next are the same buffer")
	}
	if cur.Rows() != next.Rows() || cur.Width() != next.Width() {
		return fmt.Errorf("stencil: shape mismatch %dx%d vs %dx%d",
			cur.Rows(), cur.Width(), next.Rows(), next.Width())
	}

	bands := Bands(cur.Rows(), k.threads)
	if len(bands) == 1 {
		stepRows(cur, next, bands[0])
		return nil
	}

	var wg sync.WaitGroup
	for _, b := range bands {
		wg.Add(1)
		go func(b Band) {
			defer wg.Done()
			stepRows(cur, next, b)
		}(b)
	}
	wg.Wait()

	return nil
}

// stepRows applies the rule to the rows of one band
func stepRows(cur, next *grid.Grid, b Band) {
	stride := cur.Stride()
	width := cur.Width()
	in := cur.Cells()
	out := next.Cells()

	for i := b.Lo; i < b.Hi; i++ {
		up, mid, down := (i-1)*stride, i*stride, (i+1)*stride
		for j := 1; j <= width; j++ {
			n := in[up+j-1] + in[up+j] + in[up+j+1] +
				in[mid+j-1] + in[mid+j+1] +
				in[down+j-1] + in[down+j] + in[down+j+1]

			v := grid.Dead
			if n == 3 || (n == 2 && in[mid+j] == grid.Alive) {
				v = grid.Alive
			}
			out[mid+j] = v
		}
	}
}
