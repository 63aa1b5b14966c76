package grid

// Cell is a global interior coordinate, 1-based
type Cell struct {
	Row int
	Col int
}

// Glider is the seed pattern, a glider travelling towards the bottom right
var Glider = []Cell{{1, 2}, {2, 3}, {3, 1}, {3, 2}, {3, 3}}

// gliderPhases are the four shapes the seed passes through before it
// repeats one cell further down and to the right.
var gliderPhases = [4][]Cell{
	{{1, 2}, {2, 3}, {3, 1}, {3, 2}, {3, 3}},
	{{2, 1}, {2, 3}, {3, 2}, {3, 3}, {4, 2}},
	{{2, 3}, {3, 1}, {3, 3}, {4, 2}, {4, 3}},
	{{2, 2}, {3, 3}, {3, 4}, {4, 2}, {4, 3}},
}

// GliderPeriod is the number of generations between two translated copies
const GliderPeriod = 4

// Seed sets the cells of pattern that fall inside the band owned by g.
// rowOffset is the number of global rows above the band. It returns the
// number of cells written.
func Seed(g *Grid, rowOffset int, pattern []Cell) int {
	n := 0
	for _, c := range pattern {
		local := c.Row - rowOffset
		if local < 1 || local > g.rows || c.Col < 1 || c.Col > g.width {
			continue
		}
		g.Set(local, c.Col, true)
		n++
	}
	return n
}

// GliderAt returns the live cells of the seeded glider after gen generations
// on an unbounded board.
func GliderAt(gen int) []Cell {
	k, r := gen/GliderPeriod, gen%GliderPeriod
	out := make([]Cell, len(gliderPhases[r]))
	for i, c := range gliderPhases[r] {
		out[i] = Cell{Row: c.Row + k, Col: c.Col + k}
	}
	return out
}

// GliderHorizon is the last generation at which the glider is still clear
// of the dead border on a size x size board.
func GliderHorizon(size int) int {
	if size < 4 {
		return 0
	}
	return GliderPeriod * (size - 3)
}

// MatchesCells reports whether the interior of g holds exactly the given
// live cells, with rows shifted by rowOffset.
func MatchesCells(g *Grid, rowOffset int, cells []Cell) bool {
	want := 0
	for _, c := range cells {
		local := c.Row - rowOffset
		if local < 1 || local > g.rows {
			continue
		}
		if c.Col < 1 || c.Col > g.width || !g.Get(local, c.Col) {
			return false
		}
		want++
	}
	return g.Census() == want
}
