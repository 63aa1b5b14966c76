// Package network provides connection management implementation
package network

import (
	"fmt"
	"sync"
	"time"
)

// ConnectionManager tracks the connections a server is currently serving
type ConnectionManager struct {
	connections map[string]Connection
	busy        map[string]int
	mu          sync.RWMutex

	// Statistics
	totalConnections int64
	startTime        time.Time
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]Connection),
		busy:        make(map[string]int),
		startTime:   time.Now(),
	}
}

// AddConnection adds a connection to the manager
func (cm *ConnectionManager) AddConnection(conn Connection) error {
	if conn == nil {
		return fmt.Errorf("connection is nil")
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	connID := conn.ID()
	if _, exists := cm.connections[connID]; exists {
		return fmt.Errorf("connection %s already exists", connID)
	}

	cm.connections[connID] = conn
	cm.totalConnections++

	return nil
}

// RemoveConnection removes a connection from the manager
func (cm *ConnectionManager) RemoveConnection(connID string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, exists := cm.connections[connID]; !exists {
		return fmt.Errorf("connection %s not found", connID)
	}

	delete(cm.connections, connID)
	return nil
}

// GetConnection retrieves a connection by ID
func (cm *ConnectionManager) GetConnection(connID string) (Connection, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	conn, exists := cm.connections[connID]
	return conn, exists
}

// GetConnectionCount returns the number of managed connections
func (cm *ConnectionManager) GetConnectionCount() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	return len(cm.connections)
}

// Hold marks a connection as waiting on work; Cleanup leaves it open until
// every Hold has a matching Release
func (cm *ConnectionManager) Hold(connID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.busy[connID]++
}

// Release undoes one Hold
func (cm *ConnectionManager) Release(connID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.busy[connID] <= 1 {
		delete(cm.busy, connID)
		return
	}
	cm.busy[connID]--
}

// Cleanup closes and removes connections idle for longer than timeout,
// skipping held ones that are still connected. It returns how many were
// removed.
func (cm *ConnectionManager) Cleanup(timeout time.Duration) int {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	now := time.Now()
	removed := 0
	for connID, conn := range cm.connections {
		if conn.State() != ConnectionStateConnected {
			conn.Close()
			delete(cm.connections, connID)
			removed++
			continue
		}
		if cm.busy[connID] > 0 {
			continue
		}
		if now.Sub(conn.GetLastActivity()) > timeout {
			conn.Close()
			delete(cm.connections, connID)
			removed++
		}
	}

	return removed
}

// CloseAllConnections closes all managed connections
func (cm *ConnectionManager) CloseAllConnections() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	var errors []error
	for connID, conn := range cm.connections {
		if err := conn.Close(); err != nil {
			errors = append(errors, fmt.Errorf("failed to close connection %s: %w", connID, err))
		}
	}

	cm.connections = make(map[string]Connection)

	if len(errors) > 0 {
		return fmt.Errorf("errors occurred while closing connections: %v", errors)
	}

	return nil
}

// GetStatistics returns connection manager statistics
func (cm *ConnectionManager) GetStatistics() ConnectionManagerStatistics {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionManagerStatistics{
		TotalConnections:  cm.totalConnections,
		ActiveConnections: int64(len(cm.connections)),
		StartTime:         cm.startTime,
		Uptime:            time.Since(cm.startTime),
	}
	for _, conn := range cm.connections {
		cs := conn.GetStatistics()
		stats.TotalBytes += cs.BytesRead + cs.BytesWritten
		stats.TotalMessages += cs.MessagesRead + cs.MessagesSent
	}

	return stats
}

// ConnectionManagerStatistics holds statistics for the connection manager
type ConnectionManagerStatistics struct {
	TotalConnections  int64         `json:"total_connections"`
	ActiveConnections int64         `json:"active_connections"`
	TotalBytes        int64         `json:"total_bytes"`
	TotalMessages     int64         `json:"total_messages"`
	StartTime         time.Time     `json:"start_time"`
	Uptime            time.Duration `json:"uptime"`
}

// String returns the string representation of connection manager statistics
func (cms ConnectionManagerStatistics) String() string {
	return fmt.Sprintf("ConnectionManager Total=%d Active=%d Bytes=%d Messages=%d Uptime=%s",
		cms.TotalConnections, cms.ActiveConnections, cms.TotalBytes, cms.TotalMessages,
		cms.Uptime.Truncate(time.Second))
}
