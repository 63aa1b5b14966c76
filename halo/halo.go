// Package halo keeps the ghost rows of row-adjacent ranks in step.
//
// Rank r owns a band of global rows. Before each generation it sends its
// first interior row to rank r-1 and its last interior row to rank r+1,
// and receives their facing rows into its own ghost rows. The first and
// last ranks have no neighbour on one side; that ghost row stays dead.
package halo

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/najoast/lifegrid/comm"
	"github.com/najoast/lifegrid/grid"
)

// Side names a neighbour relative to this rank's band
type Side int

const (
	// Up is the rank holding the rows above
	Up Side = iota

	// Down is the rank holding the rows below
	Down
)

// String returns the side name
func (s Side) String() string {
	if s == Up {
		return "up"
	}
	return "down"
}

// Neighbour returns the rank on the given side, or -1 at the edge of the job
func Neighbour(c comm.Communicator, side Side) int {
	switch side {
	case Up:
		if c.Rank() > 0 {
			return c.Rank() - 1
		}
	case Down:
		if c.Rank() < c.Size()-1 {
			return c.Rank() + 1
		}
	}
	return -1
}

// Exchange fills both ghost rows of g with the neighbours' boundary rows
// for generation step. The up and down exchanges run concurrently and each
// is a single combined send and receive.
func Exchange(ctx context.Context, c comm.Communicator, g *grid.Grid, step int) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return exchangeSide(ctx, c, g, Up, step)
	})
	eg.Go(func() error {
		return exchangeSide(ctx, c, g, Down, step)
	})
	return eg.Wait()
}

func exchangeSide(ctx context.Context, c comm.Communicator, g *grid.Grid, side Side, step int) error {
	sendRow, ghostRow := 1, 0
	if side == Down {
		sendRow, ghostRow = g.Rows(), g.Rows()+1
	}

	peer := Neighbour(c, side)
	if peer < 0 {
		g.ClearRow(ghostRow)
		return nil
	}

	out := comm.Envelope{Tag: comm.TagHalo, Seq: uint32(step), Data: g.Row(sendRow)}
	in, err := comm.SendRecv(ctx, c, peer, out, comm.TagHalo)
	if err != nil {
		return err
	}

	if in.Seq != uint32(step) {
		return &comm.LinkError{Peer: peer, Op: "halo " + side.String(),
			Err: fmt.Errorf("row for generation %d arrived during generation %d", in.Seq, step)}
	}
	if err := g.SetRow(ghostRow, in.Data); err != nil {
		return &comm.LinkError{Peer: peer, Op: "halo " + side.String(), Err: err}
	}
	return nil
}
