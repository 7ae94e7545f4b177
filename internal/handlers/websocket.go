package handlers

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"julesboard/internal/auth"
	"julesboard/internal/models"
	"julesboard/internal/services"
)

const (
	readDeadline = 120 * time.Second
	pingPeriod   = 30 * time.Second

	// maxMalformed is how many consecutive unparseable frames a client
	// may send before the connection is torn down.
	maxMalformed = 5
)

// WebSocketHandler runs the per-connection gateway state machine:
// Unauthenticated → Authenticated → Subscribed, with delivery gated by
// authentication. Tokens issued here outlive the connection and support
// reconnect.
type WebSocketHandler struct {
	connManager *services.ConnectionManager
	sessions    *services.SessionService
	authManager *auth.Manager
	metrics     *services.Metrics
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(connManager *services.ConnectionManager, sessions *services.SessionService, authManager *auth.Manager, metrics *services.Metrics) *WebSocketHandler {
	return &WebSocketHandler{
		connManager: connManager,
		sessions:    sessions,
		authManager: authManager,
		metrics:     metrics,
	}
}

// Handle handles a new WebSocket connection
func (h *WebSocketHandler) Handle(c *websocket.Conn) {
	conn := models.NewConnection(uuid.New().String(), c)

	done := make(chan struct{})
	h.connManager.Add(conn)
	defer func() {
		close(done)
		// Connection state is discarded; any issued token stays valid
		// for reconnection until explicitly revoked.
		h.connManager.Remove(conn.ConnID)
	}()

	c.SetReadDeadline(time.Now().Add(readDeadline))
	c.SetPongHandler(func(string) error {
		c.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	go h.pingLoop(conn, done)
	go h.writeLoop(conn)

	// Prompt for auth immediately
	conn.SafeSend(models.ServerMessage{Type: models.ServerAuthRequired})

	h.readLoop(conn)
}

// readLoop handles incoming frames until the client disconnects.
func (h *WebSocketHandler) readLoop(conn *models.Connection) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Panic in readLoop: %v", r)
		}
	}()

	malformed := 0
	for {
		_, raw, err := conn.Conn.ReadMessage()
		if err != nil {
			log.Printf("❌ WebSocket read error for %s: %v", conn.ConnID, err)
			return
		}
		conn.Conn.SetReadDeadline(time.Now().Add(readDeadline))

		var msg models.ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			malformed++
			log.Printf("⚠️  Malformed frame from %s (%d/%d): %v", conn.ConnID, malformed, maxMalformed, err)
			if malformed >= maxMalformed {
				log.Printf("❌ Closing %s after repeated malformed input", conn.ConnID)
				return
			}
			continue
		}
		malformed = 0

		h.handleMessage(conn, msg)
	}
}

// handleMessage advances the connection state machine by one message.
func (h *WebSocketHandler) handleMessage(conn *models.Connection, msg models.ClientMessage) {
	switch msg.Type {
	case models.ClientAuth:
		h.handleAuth(conn, msg)
	case models.ClientReconnect:
		h.handleReconnect(conn, msg)
	default:
		if !conn.IsAuthenticated() {
			// Everything except auth/reconnect requires authentication
			conn.SafeSend(models.ServerMessage{Type: models.ServerAuthRequired})
			return
		}
		switch msg.Type {
		case models.ClientSubscribe:
			if msg.SessionID != "" {
				conn.Subscribe(msg.SessionID)
				log.Printf("👀 Client %s subscribed to session %s", conn.ConnID, msg.SessionID)
			}
		case models.ClientUnsubscribe:
			conn.Unsubscribe()
			log.Printf("👀 Client %s unsubscribed", conn.ConnID)
		default:
			log.Printf("⚠️  Unknown message type from %s: %s", conn.ConnID, msg.Type)
		}
	}
}

// handleAuth verifies presented credentials and, on success, issues a
// session token and pushes the full current snapshot.
func (h *WebSocketHandler) handleAuth(conn *models.Connection, msg models.ClientMessage) {
	creds := auth.Credentials{
		Username:  msg.Username,
		Password:  msg.Password,
		Nonce:     msg.Nonce,
		Timestamp: msg.Timestamp,
		Signature: msg.Signature,
	}
	if !h.authManager.Authenticate(creds) {
		if h.metrics != nil {
			h.metrics.AuthFailures.WithLabelValues("ws").Inc()
		}
		conn.SafeSend(models.ServerMessage{Type: models.ServerAuthError, Message: "Invalid credentials"})
		return
	}

	token, err := h.authManager.Issue()
	if err != nil {
		log.Printf("❌ Token issue failed for %s: %v", conn.ConnID, err)
		conn.SafeSend(models.ServerMessage{Type: models.ServerAuthError, Message: "Internal error"})
		return
	}

	conn.SetAuthenticated(true)
	conn.SafeSend(models.ServerMessage{Type: models.ServerAuthSuccess, SessionToken: token})
	h.sendInitialData(conn)
}

// handleReconnect accepts a previously issued token in place of
// credentials. No new token is issued.
func (h *WebSocketHandler) handleReconnect(conn *models.Connection, msg models.ClientMessage) {
	if !h.authManager.Verify(msg.Token) {
		conn.SafeSend(models.ServerMessage{Type: models.ServerAuthRequired})
		return
	}
	conn.SetAuthenticated(true)
	conn.SafeSend(models.ServerMessage{Type: models.ServerAuthSuccess, SessionToken: msg.Token})
	h.sendInitialData(conn)
}

// sendInitialData pushes all tracked sessions and available sources to
// a freshly authenticated connection. Sessions and activities may be
// mid-reconciliation; the snapshot is whatever the replica holds now.
func (h *WebSocketHandler) sendInitialData(conn *models.Connection) {
	sessions, err := h.sessions.ListTracked()
	if err != nil {
		log.Printf("❌ Failed to load sessions for initial data: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	sources, err := h.sessions.ListSources(ctx)
	if err != nil {
		log.Printf("⚠️  Failed to load sources for initial data: %v", err)
		// Sessions are still worth pushing without sources
	}

	conn.SafeSend(models.ServerMessage{
		Type:     models.ServerInitialData,
		Sessions: sessions,
		Sources:  sources,
	})
}

// pingLoop sends periodic pings to keep the connection alive.
func (h *WebSocketHandler) pingLoop(conn *models.Connection, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.Conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				log.Printf("⚠️ Ping failed for %s: %v", conn.ConnID, err)
				return
			}
		}
	}
}

// writeLoop drains WriteChan to the socket until the channel closes.
func (h *WebSocketHandler) writeLoop(conn *models.Connection) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Panic in writeLoop: %v", r)
		}
	}()

	for msg := range conn.WriteChan {
		if err := conn.Conn.WriteJSON(msg); err != nil {
			log.Printf("❌ WebSocket write error for %s: %v", conn.ConnID, err)
			return
		}
	}
}
