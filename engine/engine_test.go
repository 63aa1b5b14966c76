package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/najoast/lifegrid/comm"
	"github.com/najoast/lifegrid/grid"
	"github.com/najoast/lifegrid/report"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNewPartition(t *testing.T) {
	tests := []struct {
		size, ranks, rank int
		rows, offset      int
	}{
		{8, 1, 0, 8, 0},
		{8, 2, 1, 4, 4},
		{16, 4, 3, 4, 12},
		{16, 16, 5, 1, 5},
	}
	for _, tt := range tests {
		p, err := NewPartition(tt.size, tt.ranks, tt.rank)
		if err != nil {
			t.Fatalf("NewPartition(%d, %d, %d): %v", tt.size, tt.ranks, tt.rank, err)
		}
		if p.LocalRows != tt.rows || p.RowOffset != tt.offset {
			t.Errorf("NewPartition(%d, %d, %d) = rows %d offset %d, want %d and %d",
				tt.size, tt.ranks, tt.rank, p.LocalRows, p.RowOffset, tt.rows, tt.offset)
		}
		if p.Rank != tt.rank || p.Ranks != tt.ranks || p.Size != tt.size {
			t.Errorf("partition %+v does not describe rank %d of %d", p, tt.rank, tt.ranks)
		}
	}

	_, err := NewPartition(12, 8, 0)
	var pe *PartitionError
	if !errors.As(err, &pe) || pe.Size != 12 || pe.Ranks != 8 {
		t.Fatalf("expected PartitionError{12, 8}, got %v", err)
	}

	for _, bad := range [][3]int{{0, 1, 0}, {8, 0, 0}, {8, 2, 2}, {8, 2, -1}} {
		if _, err := NewPartition(bad[0], bad[1], bad[2]); !errors.Is(err, ErrConfiguration) {
			t.Errorf("NewPartition%v: expected configuration error, got %v", bad, err)
		}
	}
}

func TestPlanCoversBoard(t *testing.T) {
	parts, err := Plan(32, 4)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	next := 0
	for r, p := range parts {
		if p.Rank != r || p.RowOffset != next {
			t.Fatalf("partition %d = %+v, expected offset %d", r, p, next)
		}
		next += p.LocalRows
	}
	if next != 32 {
		t.Errorf("partitions cover %d rows, want 32", next)
	}
	if last := parts[len(parts)-1]; last.RowOffset+last.LocalRows != 32 {
		t.Errorf("last partition %+v does not end at the bottom row", last)
	}

	if _, err := Plan(32, 0); !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected configuration error for zero ranks, got %v", err)
	}
}

func TestOptions(t *testing.T) {
	opts := DefaultOptions()
	for size, want := range map[int]int{4: 2, 8: 10, 32: 58, 2: 0} {
		if got := opts.Steps(size); got != want {
			t.Errorf("Steps(%d) = %d, want %d", size, got, want)
		}
	}
	opts.Generations = 7
	if got := opts.Steps(1024); got != 7 {
		t.Errorf("Steps with override = %d, want 7", got)
	}

	bad := []Options{
		{StepsPerUnit: 2, MaxCells: 1, Threads: -1},
		{StepsPerUnit: 0, MaxCells: 1},
		{StepsPerUnit: 2, MaxCells: 0},
		{StepsPerUnit: 2, MaxCells: 1, Generations: -1},
	}
	for i, o := range bad {
		if err := o.Validate(); !errors.Is(err, ErrConfiguration) {
			t.Errorf("options %d: expected configuration error, got %v", i, err)
		}
	}
}

func TestSizes(t *testing.T) {
	sizes, err := Sizes(3, 5)
	if err != nil {
		t.Fatalf("Sizes: %v", err)
	}
	if fmt.Sprint(sizes) != "[8 16 32]" {
		t.Errorf("Sizes(3, 5) = %v", sizes)
	}

	for _, bad := range [][2]int{{1, 4}, {5, 3}, {2, 31}} {
		if _, err := Sizes(bad[0], bad[1]); !errors.Is(err, ErrConfiguration) {
			t.Errorf("Sizes%v: expected configuration error, got %v", bad, err)
		}
	}
}

// boardRecorder assembles the whole board after every generation from the
// bands each rank reports
type boardRecorder struct {
	mu     sync.Mutex
	size   int
	boards map[int]*grid.Grid

	// border lists every live cell seen outside the board
	border []string
}

func newBoardRecorder(size int) *boardRecorder {
	return &boardRecorder{size: size, boards: make(map[int]*grid.Grid)}
}

func (b *boardRecorder) onStep(p Partition, generation int, current *grid.Grid) {
	b.mu.Lock()
	defer b.mu.Unlock()

	board, ok := b.boards[generation]
	if !ok {
		board, _ = grid.New(b.size, b.size)
		b.boards[generation] = board
	}
	board.SetBand(p.RowOffset+1, current.Interior())

	// the top rank's upper ghost row and the bottom rank's lower one lie
	// outside the board, as do both sentinel columns
	last := current.Rows() + 1
	if p.Rank == 0 {
		b.checkDead(p, generation, current, 0)
	}
	if p.Rank == p.Ranks-1 {
		b.checkDead(p, generation, current, last)
	}
	for row := 0; row <= last; row++ {
		if current.Get(row, 0) || current.Get(row, current.Width()+1) {
			b.border = append(b.border, fmt.Sprintf("rank %d generation %d: sentinel in row %d", p.Rank, generation, row))
		}
	}
}

func (b *boardRecorder) checkDead(p Partition, generation int, current *grid.Grid, row int) {
	for col, cell := range current.Row(row) {
		if cell != grid.Dead {
			b.border = append(b.border, fmt.Sprintf("rank %d generation %d: ghost row %d col %d alive", p.Rank, generation, row, col))
			return
		}
	}
}

func TestPartitionInvariance(t *testing.T) {
	const pow, generations = 4, 40
	size := 1 << pow

	var reference *boardRecorder
	for _, ranks := range []int{1, 2, 4, 8, 16} {
		rec := newBoardRecorder(size)
		opts := DefaultOptions()
		opts.Threads = 3
		opts.Generations = generations
		opts.OnStep = rec.onStep

		if _, err := RunLocal(testContext(t), Job{PowMin: pow, PowMax: pow, Ranks: ranks, Options: opts}); err != nil {
			t.Fatalf("ranks=%d: %v", ranks, err)
		}
		if len(rec.boards) != generations {
			t.Fatalf("ranks=%d: recorded %d generations, want %d", ranks, len(rec.boards), generations)
		}
		if len(rec.border) > 0 {
			t.Fatalf("ranks=%d: live cells outside the board: %v", ranks, rec.border)
		}

		if reference == nil {
			reference = rec
			continue
		}
		for gen := 1; gen <= generations; gen++ {
			if !bytes.Equal(rec.boards[gen].Cells(), reference.boards[gen].Cells()) {
				t.Fatalf("ranks=%d generation %d differs from one rank:\n%s\nvs\n%s",
					ranks, gen, rec.boards[gen], reference.boards[gen])
			}
		}
	}
}

func TestGliderDeterminism(t *testing.T) {
	for _, pow := range []int{3, 4, 5} {
		for _, ranks := range []int{1, 2, 4} {
			t.Run(fmt.Sprintf("pow=%d/ranks=%d", pow, ranks), func(t *testing.T) {
				var mu sync.Mutex
				var mismatches []string

				opts := DefaultOptions()
				opts.Threads = 2
				opts.Verify = true
				opts.OnStep = func(p Partition, gen int, current *grid.Grid) {
					if gen%grid.GliderPeriod != 0 {
						return
					}
					if !grid.MatchesCells(current, p.RowOffset, grid.GliderAt(gen)) {
						mu.Lock()
						mismatches = append(mismatches, fmt.Sprintf("rank %d generation %d", p.Rank, gen))
						mu.Unlock()
					}
				}

				reports, err := RunLocal(testContext(t), Job{PowMin: pow, PowMax: pow, Ranks: ranks, Options: opts})
				if err != nil {
					t.Fatalf("RunLocal: %v", err)
				}
				if len(mismatches) > 0 {
					t.Fatalf("glider out of place: %v", mismatches)
				}
				if len(reports) != 1 {
					t.Fatalf("got %d reports, want 1", len(reports))
				}
				rep := reports[0]
				if rep.Status != report.StatusOK {
					t.Errorf("status = %q, want ok", rep.Status)
				}
				if rep.Census != 5 || rep.Ranks != ranks || rep.Generations != 2*(1<<pow-3) {
					t.Errorf("unexpected report %+v", rep)
				}
			})
		}
	}
}

func TestVerifyBeyondHorizon(t *testing.T) {
	opts := DefaultOptions()
	opts.Verify = true
	opts.Generations = grid.GliderHorizon(8) + 4

	reports, err := RunLocal(testContext(t), Job{PowMin: 3, PowMax: 3, Ranks: 2, Options: opts})
	if err != nil {
		t.Fatalf("RunLocal: %v", err)
	}
	if reports[0].Status != report.StatusUnchecked {
		t.Errorf("status = %q, want unchecked", reports[0].Status)
	}
}

func TestDivisibilityRejectedBeforeAllocation(t *testing.T) {
	opts := DefaultOptions()
	// Any allocation would fail with this cap
	opts.MaxCells = 1

	reports, err := RunLocal(testContext(t), Job{PowMin: 3, PowMax: 4, Ranks: 3, Options: opts})
	var pe *PartitionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PartitionError, got %v", err)
	}
	if pe.Size != 8 || pe.Ranks != 3 {
		t.Errorf("PartitionError = %+v, want size 8 ranks 3", pe)
	}
	if errors.Is(err, ErrAllocation) || errors.Is(err, ErrConfiguration) {
		t.Errorf("partition failure reported as %v", err)
	}
	if len(reports) != 0 {
		t.Errorf("no size should have completed, got %d reports", len(reports))
	}
}

func TestAllocationFailure(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxCells = 40

	reports, err := RunLocal(testContext(t), Job{PowMin: 2, PowMax: 4, Ranks: 2, Options: opts})
	if !errors.Is(err, ErrAllocation) {
		t.Fatalf("expected allocation failure, got %v", err)
	}
	// Size 4 bands are 4x6 padded cells and fit; size 8 bands are 6x10 and do not
	if len(reports) != 1 || reports[0].Size != 4 {
		t.Errorf("expected only size 4 to complete, got %+v", reports)
	}
}

func TestBufferSwap(t *testing.T) {
	seen := make(map[int]*grid.Grid)
	opts := DefaultOptions()
	opts.Generations = 7
	opts.OnStep = func(p Partition, gen int, current *grid.Grid) {
		seen[gen] = current
	}

	if _, err := RunLocal(testContext(t), Job{PowMin: 3, PowMax: 3, Ranks: 1, Options: opts}); err != nil {
		t.Fatalf("RunLocal: %v", err)
	}

	odd, even := seen[1], seen[2]
	if odd == even {
		t.Fatal("consecutive generations share a buffer")
	}
	for gen := 1; gen <= 7; gen++ {
		want := odd
		if gen%2 == 0 {
			want = even
		}
		if seen[gen] != want {
			t.Errorf("generation %d landed in the wrong buffer", gen)
		}
	}
}

func TestJobValidate(t *testing.T) {
	bad := []Job{
		{PowMin: 3, PowMax: 4, Ranks: 0, Options: DefaultOptions()},
		{PowMin: 1, PowMax: 4, Ranks: 1, Options: DefaultOptions()},
		{PowMin: 3, PowMax: 4, Ranks: 1},
	}
	for i, job := range bad {
		if _, err := RunLocal(context.Background(), job); !errors.Is(err, ErrConfiguration) {
			t.Errorf("job %d: expected configuration error, got %v", i, err)
		}
	}
}

func TestRunLocalCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RunLocal(ctx, Job{PowMin: 4, PowMax: 4, Ranks: 2, Options: DefaultOptions()})
	if !errors.Is(err, ErrCommunication) {
		t.Fatalf("expected communication failure, got %v", err)
	}
}

func TestReduceAndGather(t *testing.T) {
	const ranks, size = 4, 8
	world, _ := comm.NewWorld(ranks)
	defer world.Close()

	parts, _ := Plan(size, ranks)
	var board *grid.Grid
	var total int

	eg, ctx := errgroup.WithContext(testContext(t))
	for r := 0; r < ranks; r++ {
		r := r
		eg.Go(func() error {
			band, _ := grid.New(parts[r].LocalRows, size)
			grid.Seed(band, parts[r].RowOffset, grid.Glider)

			census, err := ReduceCensus(ctx, world.Rank(r), band.Census())
			if err != nil {
				return err
			}
			b, err := Gather(ctx, world.Rank(r), parts[r], band, grid.DefaultMaxCells)
			if err != nil {
				return err
			}
			if r == 0 {
				board, total = b, census
			} else if b != nil || census != -1 {
				return fmt.Errorf("rank %d got coordinator results", r)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatalf("reduce/gather: %v", err)
	}

	if total != len(grid.Glider) {
		t.Errorf("census = %d, want %d", total, len(grid.Glider))
	}
	if !grid.MatchesCells(board, 0, grid.Glider) {
		t.Errorf("gathered board does not hold the seed:\n%s", board)
	}
}

func TestRunMesh(t *testing.T) {
	const ranks = 2
	peers := make([]string, ranks)
	for i := range peers {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("reserve port: %v", err)
		}
		peers[i] = l.Addr().String()
		l.Close()
	}

	opts := DefaultOptions()
	opts.Verify = true
	ctx := testContext(t)

	var reports []report.SizeReport
	eg, ectx := errgroup.WithContext(ctx)
	for r := 0; r < ranks; r++ {
		r := r
		eg.Go(func() error {
			reps, err := RunMesh(ectx, comm.MeshConfig{Rank: r, Peers: peers, Session: 3},
				Job{PowMin: 3, PowMax: 4, Options: opts})
			if r == 0 {
				reports = reps
			}
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatalf("RunMesh: %v", err)
	}

	if len(reports) != 2 {
		t.Fatalf("got %d reports, want 2", len(reports))
	}
	for _, rep := range reports {
		if rep.Status != report.StatusOK || rep.Ranks != ranks {
			t.Errorf("size %d: %+v", rep.Size, rep)
		}
	}
}
