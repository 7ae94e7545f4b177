package services

import (
	"log"
	"sync"

	"julesboard/internal/models"
)

// ConnectionManager manages all active WebSocket connections and fans
// change events out to them.
type ConnectionManager struct {
	connections map[string]*models.Connection
	mutex       sync.RWMutex
	metrics     *Metrics
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*models.Connection),
	}
}

// SetMetrics attaches the metrics instance. Optional; nil-safe.
func (cm *ConnectionManager) SetMetrics(m *Metrics) {
	cm.metrics = m
}

// Add adds a new connection
func (cm *ConnectionManager) Add(conn *models.Connection) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.connections[conn.ConnID] = conn
	log.Printf("✅ Connection added: %s (Total: %d)", conn.ConnID, len(cm.connections))
}

// Remove removes a connection
func (cm *ConnectionManager) Remove(connID string) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	if conn, exists := cm.connections[connID]; exists {
		conn.MarkClosed()
		close(conn.WriteChan)
		delete(cm.connections, connID)
		log.Printf("❌ Connection removed: %s (Total: %d)", connID, len(cm.connections))
	}
}

// Get retrieves a connection by ID
func (cm *ConnectionManager) Get(connID string) (*models.Connection, bool) {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	conn, exists := cm.connections[connID]
	return conn, exists
}

// Count returns the number of active connections
func (cm *ConnectionManager) Count() int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return len(cm.connections)
}

// Broadcast delivers an event to every currently authenticated
// connection. Delivery is gated by authentication only — the
// subscribed-session bookkeeping does not filter it. Best-effort and
// fire-and-forget: a full or closed connection is skipped, never an
// error for the caller.
func (cm *ConnectionManager) Broadcast(msg models.ServerMessage) {
	cm.mutex.RLock()
	conns := make([]*models.Connection, 0, len(cm.connections))
	for _, conn := range cm.connections {
		conns = append(conns, conn)
	}
	cm.mutex.RUnlock()

	delivered := 0
	for _, conn := range conns {
		if !conn.IsAuthenticated() {
			continue
		}
		if conn.SafeSend(msg) {
			delivered++
		}
	}

	if cm.metrics != nil {
		cm.metrics.BroadcastsSent.WithLabelValues(msg.Type).Add(float64(delivered))
	}
}
