// Package network provides TCP client implementation
package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// tcpClient implements the Client interface for TCP
type tcpClient struct {
	config *NetworkConfig
	conn   Connection

	msgHandler MessageHandler

	connected int32 // atomic flag

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex

	targetAddress string

	// Statistics
	connectAttempts    int64
	successfulConnects int64
	totalMessages      int64
	startTime          time.Time
}

// NewTCPClient creates a new TCP client
func NewTCPClient(config *NetworkConfig) (Client, error) {
	if config == nil {
		config = DefaultNetworkConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &tcpClient{
		config:    config,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}, nil
}

// Connect dials address once
func (tc *tcpClient) Connect(ctx context.Context, address string) (Connection, error) {
	if tc.isConnected() {
		return nil, fmt.Errorf("client already connected to %s", tc.target())
	}

	tc.mu.Lock()
	tc.targetAddress = address
	tc.mu.Unlock()

	atomic.AddInt64(&tc.connectAttempts, 1)

	dialer := &net.Dialer{Timeout: tc.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok && tc.config.KeepAlive {
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(tc.config.KeepAliveInterval)
	}

	connection := NewTCPConnection(conn, tc.config.SendQueue)
	connection.SetReadTimeout(tc.config.ReadTimeout)
	connection.SetWriteTimeout(tc.config.WriteTimeout)

	tc.mu.Lock()
	tc.conn = connection
	handler := tc.msgHandler
	tc.mu.Unlock()

	atomic.StoreInt32(&tc.connected, 1)
	atomic.AddInt64(&tc.successfulConnects, 1)

	if handler != nil {
		tc.wg.Add(1)
		go tc.messageLoop(connection, handler)
	}

	tc.config.logf("TCP client connected to %s", address)
	return connection, nil
}

// ConnectRetry dials until the server accepts, the attempts run out or ctx
// ends. Used while peers are still starting up.
func (tc *tcpClient) ConnectRetry(ctx context.Context, address string) (Connection, error) {
	var lastErr error
	for attempt := 1; ; attempt++ {
		conn, err := tc.Connect(ctx, address)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		if tc.config.MaxReconnectAttempts > 0 && attempt >= tc.config.MaxReconnectAttempts {
			return nil, fmt.Errorf("giving up on %s after %d attempts: %w", address, attempt, lastErr)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect to %s: %w (last error: %v)", address, ctx.Err(), lastErr)
		case <-time.After(tc.config.ReconnectInterval):
		}
	}
}

// Disconnect disconnects from the server
func (tc *tcpClient) Disconnect() error {
	tc.cancel()

	tc.mu.Lock()
	conn := tc.conn
	tc.conn = nil
	tc.mu.Unlock()

	if conn == nil {
		return nil
	}

	err := conn.Close()
	atomic.StoreInt32(&tc.connected, 0)
	tc.wg.Wait()

	tc.config.logf("TCP client disconnected")
	return err
}

// connection returns the current connection, nil before Connect
func (tc *tcpClient) connection() Connection {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.conn
}

// SetMessageHandler sets the handler for incoming messages. It must be set
// before Connect to receive every message.
func (tc *tcpClient) SetMessageHandler(handler MessageHandler) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.msgHandler = handler
}

// isConnected reports whether the client holds a live connection
func (tc *tcpClient) isConnected() bool {
	return atomic.LoadInt32(&tc.connected) == 1
}

// GetStatistics returns client statistics
func (tc *tcpClient) GetStatistics() ClientStatistics {
	var connStats ConnectionStatistics
	if conn := tc.connection(); conn != nil {
		connStats = conn.GetStatistics()
	}

	return ClientStatistics{
		TargetAddress:      tc.target(),
		Connected:          tc.isConnected(),
		StartTime:          tc.startTime,
		Uptime:             time.Since(tc.startTime),
		ConnectAttempts:    atomic.LoadInt64(&tc.connectAttempts),
		SuccessfulConnects: atomic.LoadInt64(&tc.successfulConnects),
		TotalMessages:      atomic.LoadInt64(&tc.totalMessages),
		ConnectionStats:    connStats,
	}
}

// SendMessage sends a message through the client connection
func (tc *tcpClient) SendMessage(msg *Message) error {
	conn := tc.connection()
	if conn == nil {
		return fmt.Errorf("client is not connected")
	}

	err := conn.SendMessage(msg)
	if err == nil {
		atomic.AddInt64(&tc.totalMessages, 1)
	}

	return err
}

// Private methods

func (tc *tcpClient) target() string {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.targetAddress
}

// messageLoop hands incoming messages to the handler until the read fails
func (tc *tcpClient) messageLoop(conn Connection, handler MessageHandler) {
	defer tc.wg.Done()

	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			atomic.StoreInt32(&tc.connected, 0)
			select {
			case <-tc.ctx.Done():
			default:
				handler.OnError(conn, err)
			}
			return
		}

		atomic.AddInt64(&tc.totalMessages, 1)
		handler.OnMessage(conn, msg)
	}
}

// ClientStatistics holds statistics for a client
type ClientStatistics struct {
	TargetAddress      string               `json:"target_address"`
	Connected          bool                 `json:"connected"`
	StartTime          time.Time            `json:"start_time"`
	Uptime             time.Duration        `json:"uptime"`
	ConnectAttempts    int64                `json:"connect_attempts"`
	SuccessfulConnects int64                `json:"successful_connects"`
	TotalMessages      int64                `json:"total_messages"`
	ConnectionStats    ConnectionStatistics `json:"connection_stats"`
}

// String returns the string representation of client statistics
func (cs ClientStatistics) String() string {
	return fmt.Sprintf("Client[%s] Connected=%t Uptime=%s Attempts=%d/%d Messages=%d",
		cs.TargetAddress, cs.Connected, cs.Uptime.Truncate(time.Second),
		cs.SuccessfulConnects, cs.ConnectAttempts, cs.TotalMessages)
}
