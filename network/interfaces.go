// Package network provides framed TCP messaging for lifegrid ranks and the
// engine service
package network

import (
	"context"
	"log"
	"net"
	"time"
)

// ConnectionState represents the state of a network connection
type ConnectionState int

const (
	ConnectionStateConnected ConnectionState = iota
	ConnectionStateDisconnected
	ConnectionStateClosed
)

// String returns the string representation of ConnectionState
func (cs ConnectionState) String() string {
	switch cs {
	case ConnectionStateConnected:
		return "connected"
	case ConnectionStateDisconnected:
		return "disconnected"
	case ConnectionStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection represents a framed message connection
type Connection interface {
	// ID returns the unique identifier for this connection
	ID() string

	// RemoteAddr returns the remote network address
	RemoteAddr() net.Addr

	// SendMessage queues a message for writing; it does not wait for the peer
	SendMessage(msg *Message) error

	// ReadMessage blocks until a whole message has been read
	ReadMessage() (*Message, error)

	// Close flushes queued messages and closes the connection
	Close() error

	// State returns the current connection state
	State() ConnectionState

	// SetReadTimeout sets the read timeout, zero disables it
	SetReadTimeout(timeout time.Duration)

	// SetWriteTimeout sets the write timeout, zero disables it
	SetWriteTimeout(timeout time.Duration)

	// GetLastActivity returns the timestamp of last activity
	GetLastActivity() time.Time

	// GetStatistics returns connection statistics
	GetStatistics() ConnectionStatistics
}

// Server accepts connections and dispatches their messages
type Server interface {
	// Start starts listening
	Start() error

	// Stop stops the server and closes every connection
	Stop() error

	// Listen returns the listening address
	Listen() net.Addr

	// SetConnectionHandler sets the handler for connection events
	SetConnectionHandler(handler ConnectionHandler)

	// SetMessageHandler sets the handler for incoming messages
	SetMessageHandler(handler MessageHandler)

	// GetStatistics returns server statistics
	GetStatistics() ServerStatistics
}

// Client dials a single server
type Client interface {
	// Connect connects to the remote server
	Connect(ctx context.Context, address string) (Connection, error)

	// ConnectRetry keeps dialing until the server accepts or attempts run out
	ConnectRetry(ctx context.Context, address string) (Connection, error)

	// Disconnect disconnects from the server
	Disconnect() error

	// SetMessageHandler sets the handler for incoming messages
	SetMessageHandler(handler MessageHandler)

	// GetStatistics returns client statistics
	GetStatistics() ClientStatistics

	// SendMessage sends a message through the client connection
	SendMessage(msg *Message) error
}

// ConnectionHandler handles connection events
type ConnectionHandler interface {
	// OnConnect is called when a new connection is established
	OnConnect(conn Connection)

	// OnDisconnect is called when a connection is closed
	OnDisconnect(conn Connection, err error)
}

// MessageHandler handles incoming messages
type MessageHandler interface {
	// OnMessage is called for every message read from conn
	OnMessage(conn Connection, msg *Message)

	// OnError is called when reading from conn fails; the read loop stops
	OnError(conn Connection, err error)
}

// NetworkConfig represents network configuration
type NetworkConfig struct {
	// Address is the listening address
	Address string

	// Port is the listening port, zero picks a free one
	Port int

	// ReadTimeout is the read timeout duration, zero waits forever
	ReadTimeout time.Duration

	// WriteTimeout is the write timeout duration, zero waits forever
	WriteTimeout time.Duration

	// DialTimeout bounds a single dial attempt
	DialTimeout time.Duration

	// KeepAlive enables TCP keep-alive
	KeepAlive bool

	// KeepAliveInterval is the keep-alive interval
	KeepAliveInterval time.Duration

	// MaxConnections is the maximum number of concurrent connections
	MaxConnections int

	// SendQueue is the number of frames buffered per connection
	SendQueue int

	// ReconnectInterval is the pause between dial attempts
	ReconnectInterval time.Duration

	// MaxReconnectAttempts bounds ConnectRetry, zero retries until ctx ends
	MaxReconnectAttempts int

	// Logger receives lifecycle messages, nil keeps the layer quiet
	Logger *log.Logger
}

// DefaultNetworkConfig returns a default network configuration
func DefaultNetworkConfig() *NetworkConfig {
	return &NetworkConfig{
		Address:              "0.0.0.0",
		Port:                 7400,
		ReadTimeout:          0,
		WriteTimeout:         30 * time.Second,
		DialTimeout:          5 * time.Second,
		KeepAlive:            true,
		KeepAliveInterval:    60 * time.Second,
		MaxConnections:       1000,
		SendQueue:            256,
		ReconnectInterval:    200 * time.Millisecond,
		MaxReconnectAttempts: 50,
	}
}

func (c *NetworkConfig) logf(format string, args ...interface{}) {
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
	}
}
