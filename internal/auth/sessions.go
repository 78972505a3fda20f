package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// CookieName carries the signed session token.
const CookieName = "opengoat_session"

// SessionTTL bounds how long a login lasts.
const SessionTTL = 7 * 24 * time.Hour

// Manager owns login sessions. Tokens are opaque 128-bit values signed
// with a process-scoped HMAC secret; the server side keeps an in-memory
// table, so restarts log everyone out.
type Manager struct {
	secret []byte

	mu       sync.Mutex
	sessions map[string]time.Time // token → expiry
	limiter  *rate.Limiter
	now      func() time.Time
}

// NewManager builds a Manager with a fresh random secret and the login
// rate limit (burst 5, one attempt per 2 seconds).
func NewManager() (*Manager, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate session secret: %w", err)
	}
	return &Manager{
		secret:   secret,
		sessions: make(map[string]time.Time),
		limiter:  rate.NewLimiter(rate.Every(2*time.Second), 5),
		now:      time.Now,
	}, nil
}

// AllowLoginAttempt consumes one rate-limit token; false means the caller
// should answer 429.
func (m *Manager) AllowLoginAttempt() bool {
	return m.limiter.Allow()
}

// Issue creates a session and returns the cookie to set.
func (m *Manager) Issue() (*http.Cookie, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	m.mu.Lock()
	m.sessions[token] = m.now().Add(SessionTTL)
	m.mu.Unlock()

	return m.cookie(token+"."+m.sign(token), SessionTTL), nil
}

// Validate checks the request's session cookie: signature first, then the
// server-side table and expiry.
func (m *Manager) Validate(r *http.Request) bool {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return false
	}
	token, sig, ok := strings.Cut(c.Value, ".")
	if !ok || !hmac.Equal([]byte(sig), []byte(m.sign(token))) {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	expiry, ok := m.sessions[token]
	if !ok {
		return false
	}
	if m.now().After(expiry) {
		delete(m.sessions, token)
		return false
	}
	return true
}

// Revoke deletes the request's session and returns an expired cookie to
// send back.
func (m *Manager) Revoke(r *http.Request) *http.Cookie {
	if c, err := r.Cookie(CookieName); err == nil {
		if token, _, ok := strings.Cut(c.Value, "."); ok {
			m.mu.Lock()
			delete(m.sessions, token)
			m.mu.Unlock()
		}
	}
	return m.cookie("", -time.Hour)
}

// RevokeAll logs every session out, used when credentials change.
func (m *Manager) RevokeAll() {
	m.mu.Lock()
	m.sessions = make(map[string]time.Time)
	m.mu.Unlock()
}

func (m *Manager) sign(token string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(token))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (m *Manager) cookie(value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}
