package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/najoast/lifegrid/bootstrap"
	"github.com/najoast/lifegrid/engine"
	"github.com/najoast/lifegrid/network"
	"github.com/najoast/lifegrid/report"
	"github.com/najoast/lifegrid/store"
)

// Config configures the engine service
type Config struct {
	// Network is the listening configuration
	Network *network.NetworkConfig

	// MaxConcurrent bounds the jobs running at once; further requests
	// wait for a slot
	MaxConcurrent int

	// Ranks and Options are the defaults for each request
	Ranks   int
	Options engine.Options

	// IdleTimeout drops client connections quiet for that long, zero
	// keeps them forever. Connections with a request in flight are kept.
	IdleTimeout time.Duration

	// Store records every run when set
	Store *store.Store

	// ResultsFile appends every run to a JSON results file when set
	ResultsFile string

	Logger *log.Logger
}

// Server runs engine jobs for TCP clients
type Server struct {
	config Config
	server network.Server
	conns  *network.ConnectionManager

	// defaults may be swapped by a config reload
	mu       sync.RWMutex
	ranks    int
	options  engine.Options
	resultMu sync.Mutex

	jobs   errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	served  int64
	failed  int64
	running int64
}

// NewServer creates the engine service
func NewServer(cfg Config) (*Server, error) {
	if cfg.Network == nil {
		cfg.Network = network.DefaultNetworkConfig()
	}
	if cfg.MaxConcurrent <= 0 {
		return nil, fmt.Errorf("max concurrent jobs must be positive, got %d", cfg.MaxConcurrent)
	}
	if cfg.Ranks < 1 {
		return nil, fmt.Errorf("default rank count must be positive, got %d", cfg.Ranks)
	}
	if err := cfg.Options.Validate(); err != nil {
		return nil, err
	}

	server, err := network.NewTCPServer(cfg.Network)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:  cfg,
		server:  server,
		conns:   network.NewConnectionManager(),
		ranks:   cfg.Ranks,
		options: cfg.Options,
		ctx:     ctx,
		cancel:  cancel,
	}
	s.jobs.SetLimit(cfg.MaxConcurrent)
	server.SetConnectionHandler(&serverConnectionHandler{s: s})
	server.SetMessageHandler(&serverMessageHandler{s: s})

	return s, nil
}

// Name identifies the service in the lifecycle manager
func (s *Server) Name() string {
	return "engine-service"
}

// Start starts listening
func (s *Server) Start(ctx context.Context) error {
	if err := s.server.Start(); err != nil {
		return err
	}
	s.logf("Engine service listening on %s", s.server.Listen())

	if s.config.IdleTimeout > 0 {
		s.wg.Add(1)
		go s.sweep()
	}
	return nil
}

// Stop cancels running jobs, closes every connection, then waits for the
// jobs to return
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	err := s.server.Stop()

	done := make(chan struct{})
	go func() {
		s.jobs.Wait()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logf("Engine service stop timed out waiting for jobs")
	}

	return err
}

// Health reports connection and job counters
func (s *Server) Health(ctx context.Context) (bootstrap.HealthStatus, error) {
	stats := s.conns.GetStatistics()
	listener := s.server.GetStatistics()
	state := bootstrap.HealthHealthy
	if s.ctx.Err() != nil {
		state = bootstrap.HealthStopped
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return bootstrap.HealthStatus{
		State:     state,
		Message:   "Engine service running",
		LastCheck: time.Now(),
		Data: map[string]interface{}{
			"connections": stats.ActiveConnections,
			"accepted":    listener.TotalConnections,
			"messages":    listener.TotalMessages,
			"uptime":      listener.Uptime.String(),
			"bytes":       stats.TotalBytes,
			"served":      s.served,
			"failed":      s.failed,
			"running":     s.running,
		},
	}, nil
}

// Addr returns the listening address
func (s *Server) Addr() net.Addr {
	return s.server.Listen()
}

// SetDefaults replaces the rank count and options used by later requests
func (s *Server) SetDefaults(ranks int, opts engine.Options) error {
	if ranks < 1 {
		return fmt.Errorf("default rank count must be positive, got %d", ranks)
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ranks, s.options = ranks, opts
	return nil
}

// Execute runs one request and builds its response and result record.
// clientID names the requester in the record.
func (s *Server) Execute(ctx context.Context, req RunRequest, clientID string) (RunResponse, report.Result) {
	s.mu.Lock()
	job := engine.Job{PowMin: req.PowMin, PowMax: req.PowMax, Ranks: s.ranks, Options: s.options}
	s.running++
	s.mu.Unlock()

	if req.Ranks > 0 {
		job.Ranks = req.Ranks
	}
	if req.Threads > 0 {
		job.Options.Threads = req.Threads
	}
	if req.ClientID != "" {
		clientID = req.ClientID
	}

	requestID := uuid.NewString()
	start := time.Now()
	s.logf("Request %s from %s: powmin=%d powmax=%d ranks=%d", requestID, clientID, req.PowMin, req.PowMax, job.Ranks)

	reports, err := engine.RunLocal(ctx, job)
	end := time.Now()

	result := report.NewResult(report.Job{
		RequestID:     requestID,
		ClientID:      clientID,
		PowMin:        req.PowMin,
		PowMax:        req.PowMax,
		Start:         start,
		End:           end,
		Reports:       reports,
		Err:           err,
		ClientsActive: s.conns.GetConnectionCount(),
	})

	resp := RunResponse{RequestID: requestID, Status: result.Status, Sizes: reports}
	var table bytes.Buffer
	if len(reports) > 0 {
		if werr := report.WriteTable(&table, reports); werr == nil {
			resp.Data = table.String()
		}
	}
	if err != nil {
		resp.Error = err.Error()
		s.logf("Request %s failed: %v", requestID, err)
	}

	s.mu.Lock()
	s.running--
	s.served++
	if result.Status != StatusOK {
		s.failed++
	}
	s.mu.Unlock()

	s.record(result)
	return resp, result
}

// record persists a finished run; failures are logged, not returned
func (s *Server) record(result report.Result) {
	if s.config.Store != nil {
		if err := s.config.Store.RecordRun(context.WithoutCancel(s.ctx), result); err != nil {
			s.logf("Failed to record run %s: %v", result.RequestID, err)
		}
	}
	if s.config.ResultsFile != "" {
		s.resultMu.Lock()
		err := report.AppendResult(s.config.ResultsFile, result)
		s.resultMu.Unlock()
		if err != nil {
			s.logf("Failed to append run %s: %v", result.RequestID, err)
		}
	}
}

// handle answers one request frame
func (s *Server) handle(conn network.Connection, msg *network.Message) {
	req, err := decodeRequest(msg)
	if err != nil {
		s.reply(conn, RunResponse{RequestID: uuid.NewString(), Status: StatusError, Error: err.Error()}, msg.Sequence)
		return
	}

	clientID := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(clientID); err == nil {
		clientID = host
	}

	// a client waiting on its job sends nothing, so the sweep must not drop it
	s.conns.Hold(conn.ID())
	s.jobs.Go(func() error {
		defer s.conns.Release(conn.ID())
		resp, _ := s.Execute(s.ctx, req, clientID)
		s.reply(conn, resp, msg.Sequence)
		return nil
	})
}

func (s *Server) reply(conn network.Connection, resp RunResponse, seq uint32) {
	out, err := encodeResponse(resp, seq)
	if err == nil {
		err = conn.SendMessage(out)
	}
	if err != nil {
		s.logf("Failed to answer %s: %v", conn.RemoteAddr(), err)
	}
}

// sweep drops idle client connections that have no request in flight
func (s *Server) sweep() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.IdleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if n := s.conns.Cleanup(s.config.IdleTimeout); n > 0 {
				s.logf("Dropped %d idle connections", n)
			}
		}
	}
}

func (s *Server) logf(format string, args ...interface{}) {
	if s.config.Logger != nil {
		s.config.Logger.Printf(format, args...)
	}
}

type serverConnectionHandler struct {
	s *Server
}

func (h *serverConnectionHandler) OnConnect(conn network.Connection) {
	if err := h.s.conns.AddConnection(conn); err != nil {
		h.s.logf("Failed to track connection %s: %v", conn.RemoteAddr(), err)
	}
}

func (h *serverConnectionHandler) OnDisconnect(conn network.Connection, err error) {
	h.s.conns.RemoveConnection(conn.ID())
	if err != nil && !errors.Is(err, net.ErrClosed) {
		h.s.logf("Client %s disconnected: %v", conn.RemoteAddr(), err)
	}
}

type serverMessageHandler struct {
	s *Server
}

func (h *serverMessageHandler) OnMessage(conn network.Connection, msg *network.Message) {
	switch msg.Type {
	case network.MessageTypeRunRequest:
		h.s.handle(conn, msg)
	case network.MessageTypeHeartbeat:
		conn.SendMessage(network.NewMessage(network.MessageTypeAck, nil))
	default:
		conn.SendMessage(network.NewErrorMessage(fmt.Sprintf("unexpected message type %s", msg.Type)))
	}
}

func (h *serverMessageHandler) OnError(conn network.Connection, err error) {}
