package comm

import (
	"context"
	"fmt"
	"sync"
)

// linkDepth is the number of envelopes a link buffers before Send blocks
const linkDepth = 4

type linkKey struct {
	src, dst int
	tag      Tag
}

// World runs every rank of a job inside one process. Each rank is a
// goroutine holding the Communicator returned by Rank.
type World struct {
	size int

	mu    sync.Mutex
	links map[linkKey]chan Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// NewWorld creates a world of size ranks
func NewWorld(size int) (*World, error) {
	if size < 1 {
		return nil, fmt.Errorf("world needs at least one rank, got %d", size)
	}
	return &World{
		size:  size,
		links: make(map[linkKey]chan Envelope),
		done:  make(chan struct{}),
	}, nil
}

// Size returns the number of ranks
func (w *World) Size() int {
	return w.size
}

// Rank returns the communicator for rank r
func (w *World) Rank(r int) Communicator {
	if r < 0 || r >= w.size {
		panic(fmt.Sprintf("comm: rank %d out of range [0,%d)", r, w.size))
	}
	return &localRank{world: w, rank: r, closed: make(chan struct{})}
}

// Close shuts the world down; blocked operations on every rank fail
func (w *World) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	return nil
}

func (w *World) link(src, dst int, tag Tag) chan Envelope {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := linkKey{src: src, dst: dst, tag: tag}
	ch, ok := w.links[key]
	if !ok {
		ch = make(chan Envelope, linkDepth)
		w.links[key] = ch
	}
	return ch
}

// localRank is one rank of a World
type localRank struct {
	world *World
	rank  int

	closed    chan struct{}
	closeOnce sync.Once
}

func (r *localRank) Rank() int { return r.rank }

func (r *localRank) Size() int { return r.world.size }

func (r *localRank) Send(ctx context.Context, peer int, env Envelope) error {
	if err := checkPeer(r.rank, r.world.size, peer, "send"); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return &LinkError{Peer: peer, Op: "send", Err: err}
	}

	// The receiver owns what it gets, as it would off the wire
	data := make([]byte, len(env.Data))
	copy(data, env.Data)
	env.Data = data

	select {
	case r.world.link(r.rank, peer, env.Tag) <- env:
		return nil
	case <-ctx.Done():
		return &LinkError{Peer: peer, Op: "send", Err: ctx.Err()}
	case <-r.world.done:
		return &LinkError{Peer: peer, Op: "send", Err: ErrClosed}
	case <-r.closed:
		return &LinkError{Peer: peer, Op: "send", Err: ErrClosed}
	}
}

func (r *localRank) Recv(ctx context.Context, peer int, tag Tag) (Envelope, error) {
	if err := checkPeer(r.rank, r.world.size, peer, "recv"); err != nil {
		return Envelope{}, err
	}
	if err := ctx.Err(); err != nil {
		return Envelope{}, &LinkError{Peer: peer, Op: "recv", Err: err}
	}

	select {
	case env := <-r.world.link(peer, r.rank, tag):
		return env, nil
	case <-ctx.Done():
		return Envelope{}, &LinkError{Peer: peer, Op: "recv", Err: ctx.Err()}
	case <-r.world.done:
		return Envelope{}, &LinkError{Peer: peer, Op: "recv", Err: ErrClosed}
	case <-r.closed:
		return Envelope{}, &LinkError{Peer: peer, Op: "recv", Err: ErrClosed}
	}
}

func (r *localRank) Close() error {
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}
