// Package comm connects the ranks of a partitioned run. A rank talks to a
// peer through tagged envelopes; Send never waits for the peer to receive.
package comm

import (
	"context"
	"errors"
	"fmt"

	"github.com/najoast/lifegrid/network"
)

// Tag separates independent message streams between the same two ranks
type Tag uint32

const (
	// TagHalo carries a boundary row to a neighbouring rank
	TagHalo = Tag(network.MessageTypeHalo)

	// TagResult carries a rank's result record to rank 0
	TagResult = Tag(network.MessageTypeResult)

	// TagCensus carries a rank's live-cell count to rank 0
	TagCensus = Tag(network.MessageTypeCensus)

	// TagGather carries a rank's interior rows to rank 0
	TagGather = Tag(network.MessageTypeGather)
)

// String returns the tag name
func (t Tag) String() string {
	return network.MessageType(t).String()
}

// Envelope is one message between two ranks
type Envelope struct {
	Tag Tag

	// Seq is the generation a halo row belongs to
	Seq uint32

	// Session identifies the run
	Session uint64

	Data []byte
}

// Communicator is one rank's view of the job
type Communicator interface {
	// Rank returns this rank's index
	Rank() int

	// Size returns the number of ranks in the job
	Size() int

	// Send queues env for peer and returns without waiting for it to be
	// received. env.Data may be reused once Send returns.
	Send(ctx context.Context, peer int, env Envelope) error

	// Recv blocks until peer has sent an envelope with the given tag
	Recv(ctx context.Context, peer int, tag Tag) (Envelope, error)

	// Close releases the rank's links
	Close() error
}

var (
	// ErrCommunication marks every failure to move data between ranks
	ErrCommunication = errors.New("communication failure")

	// ErrClosed is returned by operations on a closed communicator
	ErrClosed = errors.New("communicator closed")
)

// LinkError reports a failed operation on the link to one peer
type LinkError struct {
	Peer int
	Op   string
	Err  error
}

// Error implements the error interface
func (e *LinkError) Error() string {
	return fmt.Sprintf("%s peer %d: %v", e.Op, e.Peer, e.Err)
}

// Unwrap returns the underlying error
func (e *LinkError) Unwrap() error {
	return e.Err
}

// Is makes every LinkError match ErrCommunication
func (e *LinkError) Is(target error) bool {
	return target == ErrCommunication
}

// SendRecv sends out to peer and then waits for the peer's envelope with
// tag. Both sides may call it at the same time without deadlocking.
func SendRecv(ctx context.Context, c Communicator, peer int, out Envelope, tag Tag) (Envelope, error) {
	if err := c.Send(ctx, peer, out); err != nil {
		return Envelope{}, err
	}
	return c.Recv(ctx, peer, tag)
}

// checkPeer validates a peer index for a job of the given size
func checkPeer(self, size, peer int, op string) error {
	if peer < 0 || peer >= size || peer == self {
		return &LinkError{Peer: peer, Op: op, Err: fmt.Errorf("invalid peer for rank %d of %d", self, size)}
	}
	return nil
}
