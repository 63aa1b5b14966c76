// Package network provides TCP connection implementation
package network

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ErrConnectionClosed is returned by operations on a closed connection
var ErrConnectionClosed = errors.New("connection closed")

// tcpConnection implements the Connection interface for TCP connections.
// Writes go through a queue drained by a single goroutine so frames never
// interleave and senders never wait on the peer.
type tcpConnection struct {
	id           string
	conn         net.Conn
	state        int32 // ConnectionState as atomic int32
	readTimeout  time.Duration
	writeTimeout time.Duration
	lastActivity int64 // Unix nanoseconds as atomic int64
	codec        MessageCodec

	mu       sync.RWMutex
	readMu   sync.Mutex
	closed   int32 // atomic flag
	sendChan chan []byte
	quit     chan struct{}
	sendDone chan struct{}
	writeErr atomic.Value

	// Statistics
	bytesRead    int64
	bytesWritten int64
	messagesRead int64
	messagesSent int64
}

// connectionIDCounter generates unique connection IDs
var connectionIDCounter int64

// NewTCPConnection wraps conn with a send queue of the given depth
func NewTCPConnection(conn net.Conn, queue int) Connection {
	if queue <= 0 {
		queue = 256
	}

	tc := &tcpConnection{
		id:           fmt.Sprintf("tcp-%d", atomic.AddInt64(&connectionIDCounter, 1)),
		conn:         conn,
		state:        int32(ConnectionStateConnected),
		lastActivity: time.Now().UnixNano(),
		codec:        NewBinaryMessageCodec(),
		sendChan:     make(chan []byte, queue),
		quit:         make(chan struct{}),
		sendDone:     make(chan struct{}),
	}

	go tc.sendLoop()

	return tc
}

// ID returns the connection ID
func (tc *tcpConnection) ID() string {
	return tc.id
}

// RemoteAddr returns the remote address
func (tc *tcpConnection) RemoteAddr() net.Addr {
	return tc.conn.RemoteAddr()
}

// LocalAddr returns the local address
func (tc *tcpConnection) LocalAddr() net.Addr {
	return tc.conn.LocalAddr()
}

// SendMessage encodes msg and queues it for the send loop
func (tc *tcpConnection) SendMessage(msg *Message) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}
	if err := tc.failure(); err != nil {
		return err
	}

	data, err := tc.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	select {
	case tc.sendChan <- data:
		atomic.AddInt64(&tc.messagesSent, 1)
		return nil
	case <-tc.quit:
		return fmt.Errorf("connection %s: %w", tc.id, ErrConnectionClosed)
	}
}

// ReadMessage reads one frame from the connection
func (tc *tcpConnection) ReadMessage() (*Message, error) {
	if tc.isClosed() {
		return nil, fmt.Errorf("connection %s: %w", tc.id, ErrConnectionClosed)
	}

	tc.readMu.Lock()
	defer tc.readMu.Unlock()

	tc.mu.RLock()
	readTimeout := tc.readTimeout
	tc.mu.RUnlock()

	if readTimeout > 0 {
		if err := tc.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return nil, fmt.Errorf("failed to set read deadline: %w", err)
		}
	}

	headerBuf := make([]byte, MessageHeaderSize)
	if err := tc.readFull(headerBuf); err != nil {
		return nil, fmt.Errorf("failed to read message header: %w", err)
	}

	msg, dataLen, err := tc.codec.DecodeHeader(headerBuf)
	if err != nil {
		return nil, fmt.Errorf("failed to decode message header: %w", err)
	}

	if dataLen > 0 {
		msg.Data = make([]byte, dataLen)
		if err := tc.readFull(msg.Data); err != nil {
			return nil, fmt.Errorf("failed to read message data: %w", err)
		}
	}

	atomic.AddInt64(&tc.messagesRead, 1)
	tc.updateActivity()
	msg.ConnectionID = tc.id

	return msg, nil
}

// Close flushes the send queue and closes the socket
func (tc *tcpConnection) Close() error {
	if !atomic.CompareAndSwapInt32(&tc.closed, 0, 1) {
		return nil
	}

	atomic.StoreInt32(&tc.state, int32(ConnectionStateClosed))
	close(tc.quit)
	<-tc.sendDone

	return tc.conn.Close()
}

// State returns the current connection state
func (tc *tcpConnection) State() ConnectionState {
	return ConnectionState(atomic.LoadInt32(&tc.state))
}

// SetReadTimeout sets the read timeout
func (tc *tcpConnection) SetReadTimeout(timeout time.Duration) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.readTimeout = timeout
}

// SetWriteTimeout sets the write timeout
func (tc *tcpConnection) SetWriteTimeout(timeout time.Duration) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.writeTimeout = timeout
}

// GetLastActivity returns the last activity timestamp
func (tc *tcpConnection) GetLastActivity() time.Time {
	return time.Unix(0, atomic.LoadInt64(&tc.lastActivity))
}

// GetStatistics returns connection statistics
func (tc *tcpConnection) GetStatistics() ConnectionStatistics {
	return ConnectionStatistics{
		ConnectionID: tc.id,
		State:        tc.State(),
		BytesRead:    atomic.LoadInt64(&tc.bytesRead),
		BytesWritten: atomic.LoadInt64(&tc.bytesWritten),
		MessagesRead: atomic.LoadInt64(&tc.messagesRead),
		MessagesSent: atomic.LoadInt64(&tc.messagesSent),
		LastActivity: tc.GetLastActivity(),
		RemoteAddr:   tc.RemoteAddr().String(),
		LocalAddr:    tc.LocalAddr().String(),
	}
}

// Private methods

func (tc *tcpConnection) isClosed() bool {
	return atomic.LoadInt32(&tc.closed) != 0
}

// failure returns the reason no more frames can be sent, if any
func (tc *tcpConnection) failure() error {
	if err, ok := tc.writeErr.Load().(error); ok {
		return err
	}
	if tc.isClosed() {
		return fmt.Errorf("connection %s: %w", tc.id, ErrConnectionClosed)
	}
	return nil
}

// sendLoop writes queued frames until Close, then drains what is left
func (tc *tcpConnection) sendLoop() {
	defer close(tc.sendDone)

	for {
		select {
		case data := <-tc.sendChan:
			if !tc.write(data) {
				return
			}
		case <-tc.quit:
			for {
				select {
				case data := <-tc.sendChan:
					if !tc.write(data) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// write sends one frame and reports whether the loop may continue
func (tc *tcpConnection) write(data []byte) bool {
	tc.mu.RLock()
	writeTimeout := tc.writeTimeout
	tc.mu.RUnlock()

	if writeTimeout > 0 {
		if err := tc.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			tc.writeErr.Store(fmt.Errorf("failed to set write deadline: %w", err))
			return false
		}
	}

	n, err := tc.conn.Write(data)
	atomic.AddInt64(&tc.bytesWritten, int64(n))
	if err != nil {
		tc.writeErr.Store(fmt.Errorf("failed to write data: %w", err))
		atomic.StoreInt32(&tc.state, int32(ConnectionStateDisconnected))
		return false
	}

	tc.updateActivity()
	return true
}

// readFull reads exactly len(buf) bytes
func (tc *tcpConnection) readFull(buf []byte) error {
	n, err := io.ReadFull(tc.conn, buf)
	atomic.AddInt64(&tc.bytesRead, int64(n))
	return err
}

func (tc *tcpConnection) updateActivity() {
	atomic.StoreInt64(&tc.lastActivity, time.Now().UnixNano())
}

// ConnectionStatistics holds statistics for a connection
type ConnectionStatistics struct {
	ConnectionID string          `json:"connection_id"`
	State        ConnectionState `json:"state"`
	BytesRead    int64           `json:"bytes_read"`
	BytesWritten int64           `json:"bytes_written"`
	MessagesRead int64           `json:"messages_read"`
	MessagesSent int64           `json:"messages_sent"`
	LastActivity time.Time       `json:"last_activity"`
	RemoteAddr   string          `json:"remote_addr"`
	LocalAddr    string          `json:"local_addr"`
}

// String returns the string representation of connection statistics
func (cs ConnectionStatistics) String() string {
	return fmt.Sprintf("Connection[%s] State=%s BytesR/W=%d/%d MsgsR/S=%d/%d LastActivity=%s Remote=%s",
		cs.ConnectionID, cs.State, cs.BytesRead, cs.BytesWritten,
		cs.MessagesRead, cs.MessagesSent, cs.LastActivity.Format(time.RFC3339),
		cs.RemoteAddr)
}
