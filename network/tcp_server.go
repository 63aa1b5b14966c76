// Package network provides TCP server implementation
package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// tcpServer implements the Server interface for TCP
type tcpServer struct {
	config   *NetworkConfig
	listener net.Listener
	running  int32 // atomic flag

	// Event handlers
	connHandler ConnectionHandler
	msgHandler  MessageHandler

	// Connection management
	connections   map[string]Connection
	connectionsMu sync.RWMutex

	// Synchronization
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Statistics
	totalConnections   int64
	currentConnections int64
	totalMessages      int64
	startTime          time.Time
}

// NewTCPServer creates a new TCP server
func NewTCPServer(config *NetworkConfig) (Server, error) {
	if config == nil {
		config = DefaultNetworkConfig()
	}
	if config.Port < 0 || config.Port > 65535 {
		return nil, fmt.Errorf("invalid port for TCP server: %d", config.Port)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &tcpServer{
		config:      config,
		connections: make(map[string]Connection),
		ctx:         ctx,
		cancel:      cancel,
		startTime:   time.Now(),
	}, nil
}

// Start starts the TCP server
func (ts *tcpServer) Start() error {
	if !atomic.CompareAndSwapInt32(&ts.running, 0, 1) {
		return fmt.Errorf("server is already running")
	}

	address := net.JoinHostPort(ts.config.Address, fmt.Sprint(ts.config.Port))
	listener, err := net.Listen("tcp", address)
	if err != nil {
		atomic.StoreInt32(&ts.running, 0)
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	ts.listener = listener

	ts.wg.Add(1)
	go ts.acceptLoop()

	ts.config.logf("TCP server started on %s", listener.Addr())
	return nil
}

// Stop stops the TCP server gracefully
func (ts *tcpServer) Stop() error {
	if !atomic.CompareAndSwapInt32(&ts.running, 1, 0) {
		return nil // Already stopped
	}

	ts.cancel()

	if ts.listener != nil {
		ts.listener.Close()
	}

	// Closing the connections unblocks their read loops
	ts.connectionsMu.RLock()
	for _, conn := range ts.connections {
		conn.Close()
	}
	ts.connectionsMu.RUnlock()

	ts.wg.Wait()

	ts.config.logf("TCP server stopped")
	return nil
}

// Listen returns the listening address
func (ts *tcpServer) Listen() net.Addr {
	if ts.listener == nil {
		return nil
	}
	return ts.listener.Addr()
}

// SetConnectionHandler sets the handler for connection events
func (ts *tcpServer) SetConnectionHandler(handler ConnectionHandler) {
	ts.connHandler = handler
}

// SetMessageHandler sets the handler for incoming messages
func (ts *tcpServer) SetMessageHandler(handler MessageHandler) {
	ts.msgHandler = handler
}

// GetStatistics returns server statistics
func (ts *tcpServer) GetStatistics() ServerStatistics {
	address := ""
	if addr := ts.Listen(); addr != nil {
		address = addr.String()
	}

	return ServerStatistics{
		Address:            address,
		Running:            atomic.LoadInt32(&ts.running) == 1,
		StartTime:          ts.startTime,
		Uptime:             time.Since(ts.startTime),
		TotalConnections:   atomic.LoadInt64(&ts.totalConnections),
		CurrentConnections: atomic.LoadInt64(&ts.currentConnections),
		TotalMessages:      atomic.LoadInt64(&ts.totalMessages),
	}
}

// Private methods

// acceptLoop accepts incoming connections
func (ts *tcpServer) acceptLoop() {
	defer ts.wg.Done()

	for {
		conn, err := ts.listener.Accept()
		if err != nil {
			select {
			case <-ts.ctx.Done():
				return
			default:
				ts.config.logf("Failed to accept connection: %v", err)
				continue
			}
		}

		if ts.config.MaxConnections > 0 &&
			atomic.LoadInt64(&ts.currentConnections) >= int64(ts.config.MaxConnections) {
			ts.config.logf("Connection limit reached (%d), rejecting %s",
				ts.config.MaxConnections, conn.RemoteAddr())
			conn.Close()
			continue
		}

		if tcpConn, ok := conn.(*net.TCPConn); ok && ts.config.KeepAlive {
			tcpConn.SetKeepAlive(true)
			tcpConn.SetKeepAlivePeriod(ts.config.KeepAliveInterval)
		}

		connection := NewTCPConnection(conn, ts.config.SendQueue)
		connection.SetReadTimeout(ts.config.ReadTimeout)
		connection.SetWriteTimeout(ts.config.WriteTimeout)

		ts.addConnection(connection)
		atomic.AddInt64(&ts.totalConnections, 1)

		// Stop may have swept the connection map before this one was added
		select {
		case <-ts.ctx.Done():
			connection.Close()
		default:
		}

		ts.wg.Add(1)
		go ts.handleConnection(connection)
	}
}

// handleConnection reads messages from a single connection until it fails
func (ts *tcpServer) handleConnection(conn Connection) {
	defer ts.wg.Done()
	defer ts.removeConnection(conn.ID())

	if ts.connHandler != nil {
		ts.connHandler.OnConnect(conn)
	}

	var readErr error
	defer func() {
		conn.Close()
		if ts.connHandler != nil {
			ts.connHandler.OnDisconnect(conn, readErr)
		}
	}()

	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ts.ctx.Done():
			default:
				readErr = err
				if ts.msgHandler != nil {
					ts.msgHandler.OnError(conn, err)
				}
			}
			return
		}

		atomic.AddInt64(&ts.totalMessages, 1)

		if ts.msgHandler != nil {
			ts.msgHandler.OnMessage(conn, msg)
		}
	}
}

func (ts *tcpServer) addConnection(conn Connection) {
	ts.connectionsMu.Lock()
	defer ts.connectionsMu.Unlock()

	ts.connections[conn.ID()] = conn
	atomic.AddInt64(&ts.currentConnections, 1)
}

func (ts *tcpServer) removeConnection(connID string) {
	ts.connectionsMu.Lock()
	defer ts.connectionsMu.Unlock()

	if _, exists := ts.connections[connID]; exists {
		delete(ts.connections, connID)
		atomic.AddInt64(&ts.currentConnections, -1)
	}
}

// ServerStatistics holds statistics for a server
type ServerStatistics struct {
	Address            string        `json:"address"`
	Running            bool          `json:"running"`
	StartTime          time.Time     `json:"start_time"`
	Uptime             time.Duration `json:"uptime"`
	TotalConnections   int64         `json:"total_connections"`
	CurrentConnections int64         `json:"current_connections"`
	TotalMessages      int64         `json:"total_messages"`
}

// String returns the string representation of server statistics
func (ss ServerStatistics) String() string {
	return fmt.Sprintf("Server[%s] Running=%t Uptime=%s Connections=%d/%d Messages=%d",
		ss.Address, ss.Running, ss.Uptime.Truncate(time.Second),
		ss.CurrentConnections, ss.TotalConnections, ss.TotalMessages)
}
