package handlers

import (
	"path/filepath"
	"testing"

	"julesboard/internal/auth"
	"julesboard/internal/models"
	"julesboard/internal/services"
	"julesboard/internal/store"
)

// setupGatewayTest wires a handler over a mock-mode session service with
// one registered connection, and returns both. Messages land in the
// connection's buffered write channel instead of a socket.
func setupGatewayTest(t *testing.T) (*WebSocketHandler, *models.Connection) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "replica.db"))
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	conns := services.NewConnectionManager()
	sessions := services.NewSessionService(st, nil, conns, nil, true)
	authManager := auth.NewManager(auth.Config{Username: "admin", Password: "secret"})
	handler := NewWebSocketHandler(conns, sessions, authManager, nil)

	conn := models.NewConnection("test-conn", nil)
	conns.Add(conn)
	return handler, conn
}

func nextMessage(t *testing.T, conn *models.Connection) models.ServerMessage {
	t.Helper()
	select {
	case msg := <-conn.WriteChan:
		return msg
	default:
		t.Fatal("Expected a message on the write channel")
		return models.ServerMessage{}
	}
}

func assertNoMessage(t *testing.T, conn *models.Connection) {
	t.Helper()
	select {
	case msg := <-conn.WriteChan:
		t.Fatalf("Expected no message, got %+v", msg)
	default:
	}
}

func TestSubscribeBeforeAuthRejected(t *testing.T) {
	handler, conn := setupGatewayTest(t)

	handler.handleMessage(conn, models.ClientMessage{Type: models.ClientSubscribe, SessionID: "s1"})

	msg := nextMessage(t, conn)
	if msg.Type != models.ServerAuthRequired {
		t.Errorf("Expected authRequired, got %s", msg.Type)
	}
	if conn.IsAuthenticated() {
		t.Error("Connection must stay unauthenticated")
	}
	if conn.SubscribedSessionID() != "" {
		t.Error("Subscription must not be recorded before auth")
	}
}

func TestAuthSuccess(t *testing.T) {
	handler, conn := setupGatewayTest(t)

	handler.handleMessage(conn, models.ClientMessage{
		Type:     models.ClientAuth,
		Username: "admin",
		Password: "secret",
	})

	msg := nextMessage(t, conn)
	if msg.Type != models.ServerAuthSuccess {
		t.Fatalf("Expected authSuccess, got %s", msg.Type)
	}
	if msg.SessionToken == "" {
		t.Error("authSuccess should carry a session token")
	}
	if !conn.IsAuthenticated() {
		t.Error("Connection should be authenticated")
	}

	initial := nextMessage(t, conn)
	if initial.Type != models.ServerInitialData {
		t.Errorf("Expected initialData after authSuccess, got %s", initial.Type)
	}
	if len(initial.Sources) == 0 {
		t.Error("initialData should carry the available sources")
	}
}

func TestAuthFailure(t *testing.T) {
	handler, conn := setupGatewayTest(t)

	handler.handleMessage(conn, models.ClientMessage{
		Type:     models.ClientAuth,
		Username: "admin",
		Password: "wrong",
	})

	msg := nextMessage(t, conn)
	if msg.Type != models.ServerAuthError {
		t.Errorf("Expected authError, got %s", msg.Type)
	}
	if conn.IsAuthenticated() {
		t.Error("Connection must stay unauthenticated after a failed auth")
	}
	assertNoMessage(t, conn)
}

func TestSubscribeAfterAuth(t *testing.T) {
	handler, conn := setupGatewayTest(t)
	conn.SetAuthenticated(true)

	handler.handleMessage(conn, models.ClientMessage{Type: models.ClientSubscribe, SessionID: "s1"})
	if conn.SubscribedSessionID() != "s1" {
		t.Errorf("Expected subscription to s1, got %q", conn.SubscribedSessionID())
	}

	// Switching sessions replaces the subscription.
	handler.handleMessage(conn, models.ClientMessage{Type: models.ClientSubscribe, SessionID: "s2"})
	if conn.SubscribedSessionID() != "s2" {
		t.Errorf("Expected subscription to s2, got %q", conn.SubscribedSessionID())
	}

	handler.handleMessage(conn, models.ClientMessage{Type: models.ClientUnsubscribe})
	if conn.SubscribedSessionID() != "" {
		t.Errorf("Expected no subscription, got %q", conn.SubscribedSessionID())
	}
	assertNoMessage(t, conn)
}

func TestSubscribeWithoutSessionIDIgnored(t *testing.T) {
	handler, conn := setupGatewayTest(t)
	conn.SetAuthenticated(true)

	handler.handleMessage(conn, models.ClientMessage{Type: models.ClientSubscribe})
	if conn.SubscribedSessionID() != "" {
		t.Error("Subscribe without a session id should be ignored")
	}
}

func TestReconnectWithValidToken(t *testing.T) {
	handler, conn := setupGatewayTest(t)

	token, err := handler.authManager.Issue()
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	handler.handleMessage(conn, models.ClientMessage{Type: models.ClientReconnect, Token: token})

	msg := nextMessage(t, conn)
	if msg.Type != models.ServerAuthSuccess {
		t.Fatalf("Expected authSuccess, got %s", msg.Type)
	}
	if msg.SessionToken != token {
		t.Error("Reconnect should echo the presented token, not mint a new one")
	}
	if !conn.IsAuthenticated() {
		t.Error("Connection should be authenticated after reconnect")
	}

	initial := nextMessage(t, conn)
	if initial.Type != models.ServerInitialData {
		t.Errorf("Expected initialData after reconnect, got %s", initial.Type)
	}
}

func TestReconnectWithBadToken(t *testing.T) {
	handler, conn := setupGatewayTest(t)

	handler.handleMessage(conn, models.ClientMessage{Type: models.ClientReconnect, Token: "bogus"})

	msg := nextMessage(t, conn)
	if msg.Type != models.ServerAuthRequired {
		t.Errorf("Expected authRequired, got %s", msg.Type)
	}
	if conn.IsAuthenticated() {
		t.Error("Connection must stay unauthenticated")
	}
}

func TestRevokedTokenCannotReconnect(t *testing.T) {
	handler, conn := setupGatewayTest(t)

	token, _ := handler.authManager.Issue()
	handler.authManager.Revoke(token)

	handler.handleMessage(conn, models.ClientMessage{Type: models.ClientReconnect, Token: token})
	if nextMessage(t, conn).Type != models.ServerAuthRequired {
		t.Error("Revoked token should be prompted to re-authenticate")
	}
}

func TestUnknownMessageTypeIgnoredWhenAuthenticated(t *testing.T) {
	handler, conn := setupGatewayTest(t)
	conn.SetAuthenticated(true)

	handler.handleMessage(conn, models.ClientMessage{Type: "bogus"})
	assertNoMessage(t, conn)
	if !conn.IsAuthenticated() {
		t.Error("Unknown message must not change connection state")
	}
}
