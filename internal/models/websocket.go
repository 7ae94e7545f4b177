package models

import (
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

// Client → server message types
const (
	ClientAuth        = "auth"
	ClientReconnect   = "reconnect"
	ClientSubscribe   = "subscribe"
	ClientUnsubscribe = "unsubscribe"
)

// Server → client message types
const (
	ServerAuthRequired     = "authRequired"
	ServerAuthSuccess      = "authSuccess"
	ServerAuthError        = "authError"
	ServerInitialData      = "initialData"
	ServerSessionUpdate    = "sessionUpdate"
	ServerActivitiesUpdate = "activitiesUpdate"
)

// ClientMessage represents a message from the client. Type selects which
// of the remaining fields are meaningful.
type ClientMessage struct {
	Type string `json:"type"`

	// auth: static credentials
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	// auth: signature scheme (nonce + unix-seconds timestamp + hex HMAC)
	Nonce     string `json:"nonce,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Signature string `json:"signature,omitempty"`

	// reconnect
	Token string `json:"token,omitempty"`

	// subscribe
	SessionID string `json:"sessionId,omitempty"`
}

// ServerMessage represents a message sent to the client
type ServerMessage struct {
	Type         string     `json:"type"` // "authRequired", "authSuccess", "authError", "initialData", "sessionUpdate", "activitiesUpdate"
	SessionToken string     `json:"sessionToken,omitempty"`
	Message      string     `json:"message,omitempty"`
	Sessions     []Session  `json:"sessions,omitempty"`
	Sources      []Source   `json:"sources,omitempty"`
	Session      *Session   `json:"session,omitempty"`
	SessionID    string     `json:"sessionId,omitempty"`
	Activities   []Activity `json:"activities,omitempty"`
}

// Connection represents a single live WebSocket connection and its
// gateway state. Authenticated starts false; SubscribedSessionID is
// bookkeeping only and does not restrict delivery.
type Connection struct {
	ConnID    string
	Conn      *websocket.Conn
	CreatedAt time.Time
	WriteChan chan ServerMessage

	mu                  sync.Mutex
	authenticated       bool
	subscribedSessionID string
	closed              bool
}

// NewConnection creates a connection in the unauthenticated state.
func NewConnection(connID string, conn *websocket.Conn) *Connection {
	return &Connection{
		ConnID:    connID,
		Conn:      conn,
		CreatedAt: time.Now(),
		WriteChan: make(chan ServerMessage, 100),
	}
}

// SetAuthenticated marks the connection as authenticated.
func (c *Connection) SetAuthenticated(v bool) {
	c.mu.Lock()
	c.authenticated = v
	c.mu.Unlock()
}

// IsAuthenticated reports whether the connection has completed auth.
func (c *Connection) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// Subscribe records the session the client is watching.
func (c *Connection) Subscribe(sessionID string) {
	c.mu.Lock()
	c.subscribedSessionID = sessionID
	c.mu.Unlock()
}

// Unsubscribe clears the watched session.
func (c *Connection) Unsubscribe() {
	c.mu.Lock()
	c.subscribedSessionID = ""
	c.mu.Unlock()
}

// SubscribedSessionID returns the currently watched session id, or "".
func (c *Connection) SubscribedSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribedSessionID
}

// SafeSend sends a message to WriteChan safely, returning false if the
// channel is closed
func (c *Connection) SafeSend(msg ServerMessage) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	// Use defer/recover to handle panic from send on closed channel
	defer func() {
		if r := recover(); r != nil {
			c.mu.Lock()
			c.closed = true
			c.mu.Unlock()
		}
	}()

	select {
	case c.WriteChan <- msg:
		return true
	default:
		// Slow consumer — drop rather than block the sender
		return false
	}
}

// MarkClosed marks the connection as closed
func (c *Connection) MarkClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// IsClosed returns true if the connection has been marked as closed
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
