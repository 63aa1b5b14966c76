// Package network provides tests for connection manager
package network

import (
	"net"
	"testing"
	"time"
)

// pipeConnection returns a connection backed by an in-memory pipe
func pipeConnection(t *testing.T) Connection {
	t.Helper()
	local, remote := net.Pipe()
	t.Cleanup(func() { remote.Close() })
	return NewTCPConnection(local, 4)
}

func TestConnectionManager(t *testing.T) {
	cm := NewConnectionManager()

	conn1 := pipeConnection(t)
	conn2 := pipeConnection(t)

	if err := cm.AddConnection(conn1); err != nil {
		t.Fatalf("Failed to add connection: %v", err)
	}
	if err := cm.AddConnection(conn2); err != nil {
		t.Fatalf("Failed to add connection: %v", err)
	}
	if err := cm.AddConnection(conn1); err == nil {
		t.Error("Expected error adding a duplicate connection")
	}
	if err := cm.AddConnection(nil); err == nil {
		t.Error("Expected error adding nil connection")
	}

	if cm.GetConnectionCount() != 2 {
		t.Errorf("Expected 2 connections, got %d", cm.GetConnectionCount())
	}

	if got, ok := cm.GetConnection(conn1.ID()); !ok || got != conn1 {
		t.Error("Expected to find conn1")
	}

	if err := cm.RemoveConnection(conn1.ID()); err != nil {
		t.Fatalf("Failed to remove connection: %v", err)
	}
	if err := cm.RemoveConnection(conn1.ID()); err == nil {
		t.Error("Expected error removing an unknown connection")
	}

	stats := cm.GetStatistics()
	if stats.TotalConnections != 2 || stats.ActiveConnections != 1 {
		t.Errorf("Unexpected statistics: %s", stats)
	}

	if err := cm.CloseAllConnections(); err != nil {
		t.Fatalf("Failed to close connections: %v", err)
	}
	if cm.GetConnectionCount() != 0 {
		t.Errorf("Expected 0 connections after close, got %d", cm.GetConnectionCount())
	}
	if conn2.State() != ConnectionStateClosed {
		t.Errorf("Expected conn2 closed, got %s", conn2.State())
	}
}

func TestConnectionManagerCleanup(t *testing.T) {
	cm := NewConnectionManager()

	idle := pipeConnection(t)
	closed := pipeConnection(t)
	closed.Close()

	cm.AddConnection(idle)
	cm.AddConnection(closed)

	if removed := cm.Cleanup(time.Hour); removed != 1 {
		t.Errorf("Expected 1 closed connection removed, got %d", removed)
	}
	if _, ok := cm.GetConnection(idle.ID()); !ok {
		t.Error("Fresh connection should survive cleanup")
	}

	if removed := cm.Cleanup(0); removed != 1 {
		t.Errorf("Expected idle connection removed with zero timeout, got %d", removed)
	}
}

func TestConnectionManagerCleanupSkipsHeld(t *testing.T) {
	cm := NewConnectionManager()

	waiting := pipeConnection(t)
	cm.AddConnection(waiting)

	cm.Hold(waiting.ID())
	cm.Hold(waiting.ID())
	if removed := cm.Cleanup(0); removed != 0 {
		t.Fatalf("Held connection should survive cleanup, %d removed", removed)
	}

	cm.Release(waiting.ID())
	if removed := cm.Cleanup(0); removed != 0 {
		t.Fatalf("Connection with one hold left should survive cleanup, %d removed", removed)
	}

	cm.Release(waiting.ID())
	if removed := cm.Cleanup(0); removed != 1 {
		t.Errorf("Released idle connection should be removed, got %d", removed)
	}
	if waiting.State() != ConnectionStateClosed {
		t.Errorf("Expected removed connection closed, got %s", waiting.State())
	}
}
