// Package engine runs the partitioned simulation. Every rank builds a
// Coordinator over its Communicator and calls Run with the same arguments;
// the ranks advance in lockstep through the halo exchange.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/najoast/lifegrid/comm"
	"github.com/najoast/lifegrid/grid"
	"github.com/najoast/lifegrid/halo"
	"github.com/najoast/lifegrid/report"
	"github.com/najoast/lifegrid/stencil"
)

// Coordinator drives one rank through every board size of a job
type Coordinator struct {
	comm   comm.Communicator
	kernel *stencil.Kernel
	opts   Options
}

// NewCoordinator creates the coordinator for the rank behind c
func NewCoordinator(c comm.Communicator, opts Options) (*Coordinator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Coordinator{
		comm:   c,
		kernel: stencil.NewKernel(opts.Threads),
		opts:   opts,
	}, nil
}

// Run simulates every size from 2^powMin to 2^powMax in order. Rank 0
// returns one report per completed size; other ranks return nil reports.
// The first failing size stops the job, and the reports of the sizes before
// it are still returned.
func (co *Coordinator) Run(ctx context.Context, powMin, powMax int) ([]report.SizeReport, error) {
	sizes, err := Sizes(powMin, powMax)
	if err != nil {
		return nil, err
	}

	var reports []report.SizeReport
	for _, size := range sizes {
		rep, err := co.RunSize(ctx, size)
		if err != nil {
			return reports, err
		}
		if rep != nil {
			reports = append(reports, *rep)
		}
	}
	return reports, nil
}

// RunSize simulates one size x size board. The partition is checked before
// anything is allocated.
func (co *Coordinator) RunSize(ctx context.Context, size int) (*report.SizeReport, error) {
	part, err := NewPartition(size, co.comm.Size(), co.comm.Rank())
	if err != nil {
		co.logf("rank %d: %v", co.comm.Rank(), err)
		return nil, err
	}

	start := time.Now()
	pair, err := grid.NewPair(part.LocalRows, size, co.opts.MaxCells)
	if err != nil {
		return nil, fmt.Errorf("rank %d size %d: %w", part.Rank, size, err)
	}
	grid.Seed(pair.Current(), part.RowOffset, grid.Glider)
	initDone := time.Now()

	steps := co.opts.Steps(size)
	for step := 0; step < steps; step++ {
		if err := halo.Exchange(ctx, co.comm, pair.Current(), step); err != nil {
			return nil, fmt.Errorf("rank %d size %d generation %d: %w", part.Rank, size, step, err)
		}
		if err := co.kernel.Step(pair.Current(), pair.Next()); err != nil {
			return nil, err
		}
		pair.Swap()

		if co.opts.OnStep != nil {
			co.opts.OnStep(part, step+1, pair.Current())
		}
	}
	computeDone := time.Now()

	rec := report.Record{
		Rank:        part.Rank,
		Size:        size,
		LocalRows:   part.LocalRows,
		RowOffset:   part.RowOffset,
		Generations: steps,
		Threads:     co.kernel.Threads(),
		Init:        initDone.Sub(start),
		Compute:     computeDone.Sub(initDone),
		Total:       computeDone.Sub(start),
		Census:      pair.Current().Census(),
	}
	co.logf("rank %d size %d: %d generations in %s", part.Rank, size, steps, rec.Compute)

	var status report.Status
	census := -1
	if co.opts.Verify {
		if status, census, err = co.verify(ctx, part, pair.Current(), steps); err != nil {
			return nil, fmt.Errorf("rank %d size %d check: %w", part.Rank, size, err)
		}
	}

	records, err := report.Collect(ctx, co.comm, rec)
	if err != nil {
		return nil, fmt.Errorf("rank %d size %d collect: %w", part.Rank, size, err)
	}
	if records == nil {
		return nil, nil
	}

	rep := report.Summarize(records)
	rep.Status = status
	if census >= 0 && census != rep.Census {
		return nil, fmt.Errorf("size %d: reduced census %d disagrees with records %d: %w",
			size, census, rep.Census, ErrCommunication)
	}
	if status != "" {
		co.logf("size %d: check %s", size, status)
	}
	return &rep, nil
}

// verify sums the live cells of every band at rank 0, gathers the board
// there and compares it with the glider's expected position. Only rank 0
// gets a status and a census; other ranks get "" and -1.
func (co *Coordinator) verify(ctx context.Context, part Partition, band *grid.Grid, generation int) (report.Status, int, error) {
	census, err := ReduceCensus(ctx, co.comm, band.Census())
	if err != nil {
		return "", -1, err
	}
	board, err := Gather(ctx, co.comm, part, band, co.opts.MaxCells)
	if err != nil {
		return "", -1, err
	}
	if board == nil {
		return "", -1, nil
	}

	if generation > grid.GliderHorizon(part.Size) {
		return report.StatusUnchecked, census, nil
	}
	want := grid.GliderAt(generation)
	if census != len(want) || !grid.MatchesCells(board, 0, want) {
		return report.StatusFail, census, nil
	}
	return report.StatusOK, census, nil
}

func (co *Coordinator) logf(format string, args ...interface{}) {
	if co.opts.Logger != nil {
		co.opts.Logger.Printf(format, args...)
	}
}
