package grid

import "testing"

func TestSeedSplitsAcrossBands(t *testing.T) {
	// Four bands of two rows each over an 8-wide board
	total := 0
	for rank := 0; rank < 4; rank++ {
		g, _ := New(2, 8)
		total += Seed(g, rank*2, Glider)

		if rank >= 2 && g.Census() != 0 {
			t.Errorf("Rank %d should not own any seed cell", rank)
		}
	}
	if total != len(Glider) {
		t.Errorf("Expected %d seeded cells, got %d", len(Glider), total)
	}
}

func TestGliderAtTranslates(t *testing.T) {
	for k := 0; k < 5; k++ {
		cells := GliderAt(k * GliderPeriod)
		for i, c := range cells {
			want := Cell{Row: Glider[i].Row + k, Col: Glider[i].Col + k}
			if c != want {
				t.Errorf("Generation %d cell %d: got %+v, want %+v", k*GliderPeriod, i, c, want)
			}
		}
	}
}

func TestGliderHorizon(t *testing.T) {
	tests := map[int]int{2: 0, 4: 4, 8: 20, 32: 116}
	for size, want := range tests {
		if got := GliderHorizon(size); got != want {
			t.Errorf("GliderHorizon(%d) = %d, want %d", size, got, want)
		}
	}
}

func TestMatchesCells(t *testing.T) {
	g, _ := New(8, 8)
	Seed(g, 0, Glider)

	if !MatchesCells(g, 0, Glider) {
		t.Error("Seeded grid should match the glider")
	}
	if MatchesCells(g, 0, GliderAt(1)) {
		t.Error("Seeded grid should not match the next phase")
	}

	g.Set(8, 8, true)
	if MatchesCells(g, 0, Glider) {
		t.Error("Extra live cell should break the match")
	}
}
