package report

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/najoast/lifegrid/comm"
)

// Collect brings every rank's record to rank 0. Rank 0 gets all records in
// rank order; every other rank sends its own and gets nil.
func Collect(ctx context.Context, c comm.Communicator, rec Record) ([]Record, error) {
	if c.Rank() != 0 {
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("encode record: %w", err)
		}
		return nil, c.Send(ctx, 0, comm.Envelope{Tag: comm.TagResult, Data: data})
	}

	records := make([]Record, c.Size())
	records[0] = rec
	for peer := 1; peer < c.Size(); peer++ {
		env, err := c.Recv(ctx, peer, comm.TagResult)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(env.Data, &records[peer]); err != nil {
			return nil, &comm.LinkError{Peer: peer, Op: "collect", Err: fmt.Errorf("decode record: %w", err)}
		}
		if records[peer].Rank != peer {
			return nil, &comm.LinkError{Peer: peer, Op: "collect",
				Err: fmt.Errorf("record claims rank %d", records[peer].Rank)}
		}
	}

	return records, nil
}
