package comm

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/najoast/lifegrid/network"
)

// MeshConfig describes one rank's place in a TCP mesh
type MeshConfig struct {
	// Rank is this process's rank
	Rank int

	// Peers lists every rank's listen address, indexed by rank
	Peers []string

	// Session stamps every frame; frames from another session are rejected
	Session uint64

	// Network carries timeouts and retry settings; Address and Port are
	// taken from Peers[Rank]
	Network *network.NetworkConfig

	// InboxDepth is the number of envelopes buffered per peer and tag
	InboxDepth int

	// Startup bounds how long NewMesh waits for every peer, zero waits
	// until ctx ends
	Startup time.Duration

	Logger *log.Logger
}

// Mesh is a Communicator whose ranks are separate processes joined by TCP.
// Rank i listens on Peers[i], dials every lower rank and introduces itself
// with a hello frame, so each pair of ranks shares exactly one connection.
type Mesh struct {
	rank    int
	size    int
	session uint64
	depth   int
	logger  *log.Logger

	server  network.Server
	clients []network.Client
	peers   []*peerLink

	connMu sync.RWMutex
	byConn map[string]*peerLink

	closed    chan struct{}
	closeOnce sync.Once
}

// NewMesh starts the listener, dials the lower ranks and waits until every
// peer is linked or ctx ends
func NewMesh(ctx context.Context, cfg MeshConfig) (*Mesh, error) {
	size := len(cfg.Peers)
	if size == 0 {
		return nil, fmt.Errorf("mesh needs at least one peer address")
	}
	if cfg.Rank < 0 || cfg.Rank >= size {
		return nil, fmt.Errorf("rank %d out of range for %d peers", cfg.Rank, size)
	}

	netCfg := network.DefaultNetworkConfig()
	if cfg.Network != nil {
		copied := *cfg.Network
		netCfg = &copied
	}
	host, port, err := splitAddress(cfg.Peers[cfg.Rank])
	if err != nil {
		return nil, err
	}
	netCfg.Address = host
	netCfg.Port = port
	netCfg.MaxConnections = size
	if netCfg.Logger == nil {
		netCfg.Logger = cfg.Logger
	}

	depth := cfg.InboxDepth
	if depth <= 0 {
		depth = 16
	}

	m := &Mesh{
		rank:    cfg.Rank,
		size:    size,
		session: cfg.Session,
		depth:   depth,
		logger:  cfg.Logger,
		peers:   make([]*peerLink, size),
		byConn:  make(map[string]*peerLink),
		closed:  make(chan struct{}),
	}
	for r := range m.peers {
		if r != cfg.Rank {
			m.peers[r] = newPeerLink(r, depth)
		}
	}

	if cfg.Rank < size-1 {
		server, err := network.NewTCPServer(netCfg)
		if err != nil {
			return nil, err
		}
		server.SetConnectionHandler(&meshConnectionHandler{mesh: m})
		server.SetMessageHandler(&meshServerHandler{mesh: m})
		if err := server.Start(); err != nil {
			return nil, err
		}
		m.server = server
	}

	if cfg.Startup > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Startup)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(ctx)
	var clientsMu sync.Mutex
	for r := 0; r < cfg.Rank; r++ {
		peer := m.peers[r]
		address := cfg.Peers[r]
		g.Go(func() error {
			client, err := network.NewTCPClient(netCfg)
			if err != nil {
				return err
			}
			client.SetMessageHandler(&meshClientHandler{mesh: m, peer: peer})

			clientsMu.Lock()
			m.clients = append(m.clients, client)
			clientsMu.Unlock()

			conn, err := client.ConnectRetry(gctx, address)
			if err != nil {
				return &LinkError{Peer: peer.rank, Op: "dial", Err: err}
			}
			if err := conn.SendMessage(m.hello()); err != nil {
				return &LinkError{Peer: peer.rank, Op: "hello", Err: err}
			}
			peer.attach(conn)
			m.logf("rank %d dialed rank %d at %s after %d attempts",
				m.rank, peer.rank, address, client.GetStatistics().ConnectAttempts)
			return nil
		})
	}
	for r := cfg.Rank + 1; r < size; r++ {
		peer := m.peers[r]
		g.Go(func() error {
			select {
			case <-peer.linked:
				return nil
			case <-gctx.Done():
				return &LinkError{Peer: peer.rank, Op: "accept", Err: gctx.Err()}
			}
		})
	}

	if err := g.Wait(); err != nil {
		m.Close()
		return nil, err
	}

	m.logf("rank %d linked to %d peers", m.rank, size-1)
	return m, nil
}

// Rank returns this process's rank
func (m *Mesh) Rank() int { return m.rank }

// Size returns the number of ranks in the mesh
func (m *Mesh) Size() int { return m.size }

// Session returns the run identifier stamped on every frame
func (m *Mesh) Session() uint64 { return m.session }

// Send queues env on the connection to peer
func (m *Mesh) Send(ctx context.Context, peer int, env Envelope) error {
	if err := checkPeer(m.rank, m.size, peer, "send"); err != nil {
		return err
	}
	p := m.peers[peer]
	if err := p.failure(); err != nil {
		return &LinkError{Peer: peer, Op: "send", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return &LinkError{Peer: peer, Op: "send", Err: err}
	}

	msg := &network.Message{
		Type:     network.MessageType(env.Tag),
		Sequence: env.Seq,
		Session:  m.session,
		Data:     env.Data,
	}
	if err := p.connection().SendMessage(msg); err != nil {
		return &LinkError{Peer: peer, Op: "send", Err: err}
	}
	return nil
}

// Recv waits for the next envelope from peer carrying tag. Envelopes that
// arrived before the link failed are still returned.
func (m *Mesh) Recv(ctx context.Context, peer int, tag Tag) (Envelope, error) {
	if err := checkPeer(m.rank, m.size, peer, "recv"); err != nil {
		return Envelope{}, err
	}
	p := m.peers[peer]
	inbox := p.inbox(tag)

	select {
	case env := <-inbox:
		return env, nil
	default:
	}

	select {
	case env := <-inbox:
		return env, nil
	case <-p.failed:
		select {
		case env := <-inbox:
			return env, nil
		default:
		}
		return Envelope{}, &LinkError{Peer: peer, Op: "recv", Err: p.failure()}
	case <-ctx.Done():
		return Envelope{}, &LinkError{Peer: peer, Op: "recv", Err: ctx.Err()}
	case <-m.closed:
		return Envelope{}, &LinkError{Peer: peer, Op: "recv", Err: ErrClosed}
	}
}

// Close flushes queued frames and tears down every link
func (m *Mesh) Close() error {
	m.closeOnce.Do(func() {
		close(m.closed)
		for _, client := range m.clients {
			client.Disconnect()
		}
		if m.server != nil {
			m.server.Stop()
		}
		m.logf("rank %d closed", m.rank)
	})
	return nil
}

func (m *Mesh) hello() *network.Message {
	data := make([]byte, 4)
	binary.BigEndian.PutUint32(data, uint32(m.rank))
	msg := network.NewMessage(network.MessageTypeHello, data)
	msg.Session = m.session
	return msg
}

// deliver routes a frame from peer into its inbox
func (m *Mesh) deliver(p *peerLink, msg *network.Message) {
	if msg.Session != m.session {
		p.fail(fmt.Errorf("frame from session %d, expected %d", msg.Session, m.session))
		return
	}

	env := Envelope{Tag: Tag(msg.Type), Seq: msg.Sequence, Session: msg.Session, Data: msg.Data}
	select {
	case p.inbox(env.Tag) <- env:
	case <-p.failed:
	case <-m.closed:
	}
}

func (m *Mesh) peerFor(conn network.Connection) *peerLink {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.byConn[conn.ID()]
}

// accept binds an incoming connection to the rank named in its hello frame
func (m *Mesh) accept(conn network.Connection, msg *network.Message) {
	if len(msg.Data) != 4 || msg.Session != m.session {
		m.logf("rank %d: rejecting hello from %s", m.rank, conn.RemoteAddr())
		conn.Close()
		return
	}
	rank := int(binary.BigEndian.Uint32(msg.Data))
	if rank <= m.rank || rank >= m.size {
		m.logf("rank %d: unexpected hello from rank %d", m.rank, rank)
		conn.Close()
		return
	}

	p := m.peers[rank]
	m.connMu.Lock()
	m.byConn[conn.ID()] = p
	m.connMu.Unlock()
	p.attach(conn)
}

func (m *Mesh) logf(format string, args ...interface{}) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}

// peerLink holds the connection to one peer and its per-tag inboxes
type peerLink struct {
	rank  int
	depth int

	mu      sync.Mutex
	conn    network.Connection
	inboxes map[Tag]chan Envelope
	err     error

	linked   chan struct{}
	linkOnce sync.Once
	failed   chan struct{}
	failOnce sync.Once
}

func newPeerLink(rank, depth int) *peerLink {
	return &peerLink{
		rank:    rank,
		depth:   depth,
		inboxes: make(map[Tag]chan Envelope),
		linked:  make(chan struct{}),
		failed:  make(chan struct{}),
	}
}

func (p *peerLink) attach(conn network.Connection) {
	p.linkOnce.Do(func() {
		p.mu.Lock()
		p.conn = conn
		p.mu.Unlock()
		close(p.linked)
	})
}

func (p *peerLink) connection() network.Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}

func (p *peerLink) inbox(tag Tag) chan Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.inboxes[tag]
	if !ok {
		ch = make(chan Envelope, p.depth)
		p.inboxes[tag] = ch
	}
	return ch
}

func (p *peerLink) fail(err error) {
	p.failOnce.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.failed)
	})
}

func (p *peerLink) failure() error {
	select {
	case <-p.failed:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.err
	default:
		return nil
	}
}

// meshServerHandler receives frames from higher ranks
type meshServerHandler struct {
	mesh *Mesh
}

func (h *meshServerHandler) OnMessage(conn network.Connection, msg *network.Message) {
	if msg.Type == network.MessageTypeHello {
		h.mesh.accept(conn, msg)
		return
	}
	p := h.mesh.peerFor(conn)
	if p == nil {
		h.mesh.logf("rank %d: %s frame before hello from %s", h.mesh.rank, msg.Type, conn.RemoteAddr())
		conn.Close()
		return
	}
	h.mesh.deliver(p, msg)
}

func (h *meshServerHandler) OnError(conn network.Connection, err error) {}

// meshConnectionHandler marks a higher rank's link failed when it drops
type meshConnectionHandler struct {
	mesh *Mesh
}

func (h *meshConnectionHandler) OnConnect(conn network.Connection) {}

func (h *meshConnectionHandler) OnDisconnect(conn network.Connection, err error) {
	p := h.mesh.peerFor(conn)
	if p == nil {
		return
	}
	if err == nil {
		err = ErrClosed
	}
	p.fail(fmt.Errorf("link to rank %d dropped: %w", p.rank, err))
}

// meshClientHandler receives frames from a lower rank
type meshClientHandler struct {
	mesh *Mesh
	peer *peerLink
}

func (h *meshClientHandler) OnMessage(conn network.Connection, msg *network.Message) {
	h.mesh.deliver(h.peer, msg)
}

func (h *meshClientHandler) OnError(conn network.Connection, err error) {
	h.peer.fail(fmt.Errorf("link to rank %d dropped: %w", h.peer.rank, err))
}

func splitAddress(address string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return "", 0, fmt.Errorf("invalid peer address %q: %w", address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in peer address %q: %w", address, err)
	}
	return host, port, nil
}
