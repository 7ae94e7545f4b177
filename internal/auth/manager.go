package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"golang.org/x/crypto/bcrypt"
)

const (
	// signatureSkew is the accepted clock drift on signed auth attempts.
	signatureSkew = 30 * time.Second
	// nonceWindow is how long an accepted nonce is remembered for replay
	// rejection. The cache prunes expired nonces periodically.
	nonceWindow = 120 * time.Second
)

// Credentials is everything a client can present to authenticate. A
// non-empty Signature selects the challenge-response scheme; otherwise
// username/password comparison is used.
type Credentials struct {
	Username  string
	Password  string
	Nonce     string
	Timestamp string
	Signature string
}

// Manager issues, verifies, and revokes the opaque session tokens that
// gate both the request path and the live-connection path. Token and
// nonce state live on the instance, never in package globals, and are
// process-lifetime only.
type Manager struct {
	mu     sync.RWMutex
	tokens map[string]bool

	username     string
	password     string // plaintext comparison, used when no bcrypt hash is set
	passwordHash []byte
	hmacSecret   []byte

	nonces *cache.Cache
	now    func() time.Time
}

// Config carries the credential material the manager verifies against.
type Config struct {
	Username     string
	Password     string
	PasswordHash string // bcrypt hash; takes precedence over Password
	HMACSecret   string // enables the signature scheme when non-empty
}

// NewManager creates a manager with no outstanding tokens.
func NewManager(cfg Config) *Manager {
	return &Manager{
		tokens:       make(map[string]bool),
		username:     cfg.Username,
		password:     cfg.Password,
		passwordHash: []byte(cfg.PasswordHash),
		hmacSecret:   []byte(cfg.HMACSecret),
		nonces:       cache.New(nonceWindow, nonceWindow/2),
		now:          time.Now,
	}
}

// Issue creates a new unguessable session token. It fails only if the
// entropy source does.
func (m *Manager) Issue() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	token := hex.EncodeToString(buf)

	m.mu.Lock()
	m.tokens[token] = true
	m.mu.Unlock()

	return token, nil
}

// Verify reports whether token is a currently valid session token.
func (m *Manager) Verify(token string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokens[token]
}

// Revoke invalidates a token. Revoking an unknown token is a no-op.
func (m *Manager) Revoke(token string) {
	m.mu.Lock()
	delete(m.tokens, token)
	m.mu.Unlock()
}

// TokenCount returns the number of live tokens.
func (m *Manager) TokenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tokens)
}

// Authenticate checks the presented credentials. Signed attempts are
// validated against clock skew, nonce replay, and the recomputed HMAC;
// plain attempts against the configured username and password.
func (m *Manager) Authenticate(creds Credentials) bool {
	if creds.Signature != "" {
		return m.authenticateSigned(creds)
	}
	return m.authenticateStatic(creds)
}

func (m *Manager) authenticateStatic(creds Credentials) bool {
	userOK := subtle.ConstantTimeCompare([]byte(creds.Username), []byte(m.username)) == 1

	var passOK bool
	if len(m.passwordHash) > 0 {
		passOK = bcrypt.CompareHashAndPassword(m.passwordHash, []byte(creds.Password)) == nil
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(creds.Password), []byte(m.password)) == 1
	}

	return userOK && passOK
}

func (m *Manager) authenticateSigned(creds Credentials) bool {
	if len(m.hmacSecret) == 0 {
		log.Printf("⚠️  [AUTH] Signed auth attempt but no HMAC secret configured")
		return false
	}
	if creds.Nonce == "" || creds.Timestamp == "" {
		return false
	}

	ts, err := strconv.ParseInt(creds.Timestamp, 10, 64)
	if err != nil {
		return false
	}
	drift := m.now().Sub(time.Unix(ts, 0))
	if drift < -signatureSkew || drift > signatureSkew {
		log.Printf("⚠️  [AUTH] Signed auth rejected: timestamp outside skew window (drift=%v)", drift)
		return false
	}

	// cache.Add fails when the key already exists — exactly the replay
	// check we need. The nonce is burned even if the signature turns out
	// to be bad, so an observed attempt cannot be retried either.
	if err := m.nonces.Add(creds.Nonce, true, nonceWindow); err != nil {
		log.Printf("⚠️  [AUTH] Signed auth rejected: nonce replayed")
		return false
	}

	mac := hmac.New(sha256.New, m.hmacSecret)
	mac.Write([]byte(creds.Nonce + ":" + creds.Timestamp))

	presented, err := hex.DecodeString(creds.Signature)
	if err != nil {
		return false
	}
	return hmac.Equal(presented, mac.Sum(nil))
}
