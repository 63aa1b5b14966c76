package engine

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/najoast/lifegrid/comm"
	"github.com/najoast/lifegrid/grid"
)

// ReduceCensus sums every rank's live-cell count at rank 0. Rank 0 gets the
// total; other ranks get -1.
func ReduceCensus(ctx context.Context, c comm.Communicator, local int) (int, error) {
	if c.Rank() != 0 {
		data := make([]byte, 8)
		binary.BigEndian.PutUint64(data, uint64(local))
		return -1, c.Send(ctx, 0, comm.Envelope{Tag: comm.TagCensus, Data: data})
	}

	total := local
	for peer := 1; peer < c.Size(); peer++ {
		env, err := c.Recv(ctx, peer, comm.TagCensus)
		if err != nil {
			return -1, err
		}
		if len(env.Data) != 8 {
			return -1, &comm.LinkError{Peer: peer, Op: "census", Err: fmt.Errorf("payload of %d bytes", len(env.Data))}
		}
		total += int(binary.BigEndian.Uint64(env.Data))
	}
	return total, nil
}

// Gather copies every rank's band into one board at rank 0. Other ranks
// send their band and get nil.
func Gather(ctx context.Context, c comm.Communicator, part Partition, band *grid.Grid, maxCells int) (*grid.Grid, error) {
	if c.Rank() != 0 {
		return nil, c.Send(ctx, 0, comm.Envelope{Tag: comm.TagGather, Data: band.Interior()})
	}

	board, err := grid.NewWithLimit(part.Size, part.Size, maxCells)
	if err != nil {
		return nil, err
	}
	if err := board.SetBand(1, band.Interior()); err != nil {
		return nil, err
	}

	for peer := 1; peer < c.Size(); peer++ {
		env, err := c.Recv(ctx, peer, comm.TagGather)
		if err != nil {
			return nil, err
		}
		if len(env.Data) != part.LocalRows*board.Stride() {
			return nil, &comm.LinkError{Peer: peer, Op: "gather",
				Err: fmt.Errorf("band of %d cells, want %d", len(env.Data), part.LocalRows*board.Stride())}
		}
		if err := board.SetBand(peer*part.LocalRows+1, env.Data); err != nil {
			return nil, &comm.LinkError{Peer: peer, Op: "gather", Err: err}
		}
	}
	return board, nil
}
