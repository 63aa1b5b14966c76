// Package grid provides the padded cell buffers a rank simulates on.
//
// A Grid holds rows+2 by width+2 cells in one contiguous slice. Rows 0 and
// rows+1 are ghost rows filled by the halo exchange; columns 0 and width+1
// are sentinels that stay dead for the lifetime of the buffer.
package grid

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// Dead is the stored value of a dead cell
	Dead uint8 = 0

	// Alive is the stored value of a live cell
	Alive uint8 = 1
)

// DefaultMaxCells caps a single buffer at 1<<31 cells
const DefaultMaxCells = 1 << 31

// ErrAllocation is returned when a buffer cannot be allocated
var ErrAllocation = errors.New("grid allocation failed")

// Grid is a padded two-dimensional cell buffer
type Grid struct {
	rows  int
	width int
	cells []uint8
}

// New allocates a zeroed grid with the given interior shape
func New(rows, width int) (*Grid, error) {
	return NewWithLimit(rows, width, DefaultMaxCells)
}

// NewWithLimit allocates a zeroed grid, refusing shapes above maxCells
func NewWithLimit(rows, width, maxCells int) (g *Grid, err error) {
	if rows <= 0 || width <= 0 {
		return nil, fmt.Errorf("%w: invalid shape %dx%d", ErrAllocation, rows, width)
	}

	stride := width + 2
	height := rows + 2
	if height > maxCells/stride {
		return nil, fmt.Errorf("%w: %dx%d exceeds limit of %d cells", ErrAllocation, height, stride, maxCells)
	}

	defer func() {
		if r := recover(); r != nil {
			g = nil
			err = fmt.Errorf("%w: %v", ErrAllocation, r)
		}
	}()

	return &Grid{
		rows:  rows,
		width: width,
		cells: make([]uint8, height*stride),
	}, nil
}

// Rows returns the number of interior rows
func (g *Grid) Rows() int {
	return g.rows
}

// Width returns the number of interior columns
func (g *Grid) Width() int {
	return g.width
}

// Stride returns the padded row length
func (g *Grid) Stride() int {
	return g.width + 2
}

// Cells exposes the backing slice, row-major with padding
func (g *Grid) Cells() []uint8 {
	return g.cells
}

// Get reports whether the cell at (row, col) is alive
func (g *Grid) Get(row, col int) bool {
	return g.cells[g.index(row, col)] == Alive
}

// Set writes an interior or ghost cell. Writing a sentinel column panics.
func (g *Grid) Set(row, col int, alive bool) {
	if col == 0 || col == g.width+1 {
		panic(fmt.Sprintf("grid: write to sentinel column %d", col))
	}
	v := Dead
	if alive {
		v = Alive
	}
	g.cells[g.index(row, col)] = v
}

// Row returns the padded row as a view into the buffer
func (g *Grid) Row(row int) []uint8 {
	if row < 0 || row > g.rows+1 {
		panic(fmt.Sprintf("grid: row %d out of range [0, %d]", row, g.rows+1))
	}
	start := row * g.Stride()
	return g.cells[start : start+g.Stride()]
}

// SetRow copies a full padded row into place
func (g *Grid) SetRow(row int, src []uint8) error {
	dst := g.Row(row)
	if len(src) != len(dst) {
		return fmt.Errorf("row length mismatch: got %d cells, want %d", len(src), len(dst))
	}
	copy(dst, src)
	return nil
}

// ClearRow kills every cell of a row
func (g *Grid) ClearRow(row int) {
	clear(g.Row(row))
}

// Interior returns a copy of rows 1..Rows, padded
func (g *Grid) Interior() []uint8 {
	stride := g.Stride()
	out := make([]uint8, g.rows*stride)
	copy(out, g.cells[stride:(g.rows+1)*stride])
	return out
}

// SetBand overwrites count padded rows starting at interior row first.
// It places a rank's Interior into a grid covering the whole board.
func (g *Grid) SetBand(first int, src []uint8) error {
	stride := g.Stride()
	if len(src)%stride != 0 {
		return fmt.Errorf("band length %d is not a multiple of the row stride %d", len(src), stride)
	}
	count := len(src) / stride
	if first < 1 || first+count-1 > g.rows {
		return fmt.Errorf("band rows [%d, %d] outside interior [1, %d]", first, first+count-1, g.rows)
	}
	copy(g.cells[first*stride:], src)
	return nil
}

// Census counts the live interior cells
func (g *Grid) Census() int {
	n := 0
	for i := 1; i <= g.rows; i++ {
		for _, c := range g.Row(i)[1 : g.width+1] {
			n += int(c)
		}
	}
	return n
}

// Equal reports whether two grids have the same shape and interior
func (g *Grid) Equal(other *Grid) bool {
	if other == nil || g.rows != other.rows || g.width != other.width {
		return false
	}
	for i := 1; i <= g.rows; i++ {
		a, b := g.Row(i), other.Row(i)
		for j := range a {
			if a[j] != b[j] {
				return false
			}
		}
	}
	return true
}

// Dump renders rows [firstRow, lastRow] and columns [firstCol, lastCol]
// with X for live cells
func (g *Grid) Dump(firstRow, lastRow, firstCol, lastCol int) string {
	var b strings.Builder
	for i := firstRow; i <= lastRow; i++ {
		for j := firstCol; j <= lastCol; j++ {
			if g.cells[g.index(i, j)] == Alive {
				b.WriteByte('X')
			} else {
				b.WriteByte('.')
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// String renders the interior
func (g *Grid) String() string {
	return g.Dump(1, g.rows, 1, g.width)
}

func (g *Grid) index(row, col int) int {
	return row*(g.width+2) + col
}
