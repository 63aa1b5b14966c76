package grid

// Pair holds the two buffers of a rank. Roles swap by index, never by copy.
type Pair struct {
	bufs [2]*Grid
	cur  int
}

// NewPair allocates both buffers with the same shape
func NewPair(rows, width, maxCells int) (*Pair, error) {
	a, err := NewWithLimit(rows, width, maxCells)
	if err != nil {
		return nil, err
	}
	b, err := NewWithLimit(rows, width, maxCells)
	if err != nil {
		return nil, err
	}
	return &Pair{bufs: [2]*Grid{a, b}}, nil
}

// Current returns the buffer holding the latest generation
func (p *Pair) Current() *Grid {
	return p.bufs[p.cur]
}

// Next returns the buffer the next generation is written to
func (p *Pair) Next() *Grid {
	return p.bufs[1-p.cur]
}

// Swap exchanges the roles of current and next
func (p *Pair) Swap() {
	p.cur = 1 - p.cur
}
