// Package auth holds the bearer credential supplied by the external auth provider.
package auth

import (
	"strings"
	"sync"
)

// Source supplies the current bearer token. An empty token means unauthenticated.
type Source interface {
	Token() string
}

// Holder is a Source whose token is replaced by the auth provider.
type Holder struct {
	mu    sync.RWMutex
	token string
}

// NewHolder creates a holder with an initial token.
func NewHolder(token string) *Holder {
	return &Holder{token: strings.TrimSpace(token)}
}

// Token returns the current token.
func (h *Holder) Token() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.token
}

// Set replaces the token and reports whether it changed.
func (h *Holder) Set(token string) bool {
	token = strings.TrimSpace(token)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.token == token {
		return false
	}
	h.token = token
	return true
}

// BearerHeader formats the Authorization header value for token.
func BearerHeader(token string) string {
	return "Bearer " + token
}
