// Package server provides authentication, WebSocket plumbing and command
// handling for the noise meter web interface.
package server

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"maps"
	"net/http"
	"sync"
	"time"
)

const (
	sessionCookieName = "noisemeter_session"
	sessionDuration   = 24 * time.Hour
	csrfTokenDuration = 10 * time.Minute

	maxSessions   = 64
	maxCSRFTokens = 1024
)

// tokenStore keeps random tokens until they expire. When full, expired tokens
// are dropped first and then the token closest to expiry.
type tokenStore struct {
	ttl   time.Duration
	limit int
	now   func() time.Time

	mu      sync.Mutex
	expires map[string]time.Time
}

func newTokenStore(ttl time.Duration, limit int) *tokenStore {
	return &tokenStore{ttl: ttl, limit: limit, now: time.Now, expires: make(map[string]time.Time)}
}

// issue returns a new token, or "" if no randomness is available.
func (s *tokenStore) issue() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	token := hex.EncodeToString(b)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if len(s.expires) >= s.limit {
		maps.DeleteFunc(s.expires, func(_ string, exp time.Time) bool { return !now.Before(exp) })
	}
	if len(s.expires) >= s.limit {
		var oldest string
		for t, exp := range s.expires {
			if oldest == "" || exp.Before(s.expires[oldest]) {
				oldest = t
			}
		}
		delete(s.expires, oldest)
	}
	s.expires[token] = now.Add(s.ttl)
	return token
}

// check reports whether token is live. Expired tokens are removed, and so is
// a live one when consume is set.
func (s *tokenStore) check(token string, consume bool) bool {
	if token == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.expires[token]
	if !ok {
		return false
	}
	live := s.now().Before(exp)
	if !live || consume {
		delete(s.expires, token)
	}
	return live
}

func (s *tokenStore) revoke(token string) {
	s.mu.Lock()
	delete(s.expires, token)
	s.mu.Unlock()
}

// SessionManager authenticates the web interface and REST API. Browser
// sessions live in a cookie; forms carry single-use CSRF tokens.
// It is safe for concurrent use.
type SessionManager struct {
	sessions *tokenStore
	csrf     *tokenStore
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: newTokenStore(sessionDuration, maxSessions),
		csrf:     newTokenStore(csrfTokenDuration, maxCSRFTokens),
	}
}

// Create starts a session and returns its token.
func (sm *SessionManager) Create() string { return sm.sessions.issue() }

// Validate reports whether a session token is valid.
func (sm *SessionManager) Validate(token string) bool { return sm.sessions.check(token, false) }

// Delete ends a session.
func (sm *SessionManager) Delete(token string) { sm.sessions.revoke(token) }

// CreateCSRFToken issues a token for one form submission.
func (sm *SessionManager) CreateCSRFToken() string { return sm.csrf.issue() }

// ValidateCSRFToken reports whether a CSRF token is valid and uses it up.
func (sm *SessionManager) ValidateCSRFToken(token string) bool { return sm.csrf.check(token, true) }

// Authenticated reports whether r carries a valid session cookie.
func (sm *SessionManager) Authenticated(r *http.Request) bool {
	cookie, err := r.Cookie(sessionCookieName)
	return err == nil && sm.Validate(cookie.Value)
}

// AuthMiddleware returns middleware that requires a valid session cookie.
// Unauthenticated requests are redirected to /login.
func (sm *SessionManager) AuthMiddleware() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if !sm.Authenticated(r) {
				http.Redirect(w, r, "/login", http.StatusFound)
				return
			}
			next(w, r)
		}
	}
}

// APIAuthMiddleware returns middleware for the REST API. A request passes
// with a valid session cookie or an X-API-Key header equal to apiKey().
func (sm *SessionManager) APIAuthMiddleware(apiKey func() string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if sm.Authenticated(r) || keyMatches(r.Header.Get("X-API-Key"), apiKey()) {
				next(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`)) //nolint:errcheck // client gone
		}
	}
}

// keyMatches compares in constant time. An unset key matches nothing.
func keyMatches(provided, want string) bool {
	return want != "" && subtle.ConstantTimeCompare([]byte(provided), []byte(want)) == 1
}

// Login checks the submitted credentials and starts a session on success.
func (sm *SessionManager) Login(w http.ResponseWriter, r *http.Request, username, password, configUser, configPass string) bool {
	// Both comparisons always run.
	userOK := keyMatches(username, configUser)
	passOK := keyMatches(password, configPass)
	if !userOK || !passOK {
		return false
	}

	token := sm.Create()
	if token == "" {
		return false
	}
	setSessionCookie(w, r, token, int(sessionDuration.Seconds()))
	return true
}

// Logout ends the session in r and clears the cookie.
func (sm *SessionManager) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		sm.Delete(cookie.Value)
	}
	setSessionCookie(w, r, "", -1)
}

func setSessionCookie(w http.ResponseWriter, r *http.Request, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
}
