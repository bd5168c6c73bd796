// Package session decorates outbound calls with the stored bearer token and
// ends the session when the server rejects it.
package session

import (
	"net/http"
	"strings"
	"sync"

	"github.com/kimhsiao/punchsync/internal/logging"
	"github.com/kimhsiao/punchsync/internal/models"
)

// TokenStore is the part of the credential store the gateway needs.
type TokenStore interface {
	Get() (string, bool)
	IsExpired() bool
	PutSession(token string, profile *models.Profile) error
	Clear() error
}

// DefaultAuthPrefixes are request paths that are never decorated.
var DefaultAuthPrefixes = []string{"/auth/"}

// Gateway is an http.RoundTripper adding "Authorization: Bearer <token>".
// On 401 it clears the store and then fires the logout callback, once per session.
type Gateway struct {
	next         http.RoundTripper
	store        TokenStore
	authPrefixes []string

	mu       sync.Mutex
	onLogout func()
}

// NewGateway wraps next (http.DefaultTransport when nil).
func NewGateway(store TokenStore, next http.RoundTripper) *Gateway {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Gateway{
		next:         next,
		store:        store,
		authPrefixes: DefaultAuthPrefixes,
	}
}

// OnLogout registers the callback fired after an unauthorized response.
func (g *Gateway) OnLogout(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onLogout = fn
}

// Authenticated stores the credentials returned by a successful login.
func (g *Gateway) Authenticated(token string, profile *models.Profile) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.store.PutSession(token, profile)
}

// Logout clears the session without firing the callback (user initiated).
func (g *Gateway) Logout() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.store.Clear()
}

func (g *Gateway) isAuthRequest(req *http.Request) bool {
	for _, p := range g.authPrefixes {
		if strings.Contains(req.URL.Path, p) {
			return true
		}
	}
	return false
}

// RoundTrip implements http.RoundTripper.
func (g *Gateway) RoundTrip(req *http.Request) (*http.Response, error) {
	auth := g.isAuthRequest(req)
	// held is the session this request belongs to, decorated or not (expired).
	var held string
	if !auth {
		if token, ok := g.store.Get(); ok {
			held = token
			if !g.store.IsExpired() {
				req = req.Clone(req.Context())
				req.Header.Set("Authorization", "Bearer "+token)
			}
		}
	}

	resp, err := g.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && !auth && held != "" {
		g.invalidate(req.URL.Path, held)
	}
	return resp, nil
}

// invalidate clears the session the rejected request was sent with. The
// callback fires only for the caller that removed that token, so concurrent
// 401s produce one logout and a newer login is never wiped.
func (g *Gateway) invalidate(path, held string) {
	g.mu.Lock()
	current, had := g.store.Get()
	if !had || current != held {
		g.mu.Unlock()
		return
	}
	if err := g.store.Clear(); err != nil {
		g.mu.Unlock()
		logging.Error("Failed to clear session after 401", err, map[string]interface{}{"path": path})
		return
	}
	callback := g.onLogout
	g.mu.Unlock()

	logging.Warn("Session rejected by server, signed out", map[string]interface{}{"path": path})
	if callback != nil {
		callback()
	}
}
