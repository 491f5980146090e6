// Package session keeps one state store per signed-in user for the life
// of the process.
package session

import (
	"errors"
	"sync"

	"github.com/alphabot-ai/threadly/internal/state"
)

var ErrSignedOut = errors.New("sign in required")

type Session struct {
	UserID      string
	DisplayName string
	*state.Store
}

// SignedIn reports whether the session belongs to a user.
func (s *Session) SignedIn() bool {
	return s != nil && s.UserID != ""
}

// RequireUser returns ErrSignedOut for anonymous sessions.
func (s *Session) RequireUser() error {
	if !s.SignedIn() {
		return ErrSignedOut
	}
	return nil
}

type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// For returns the session of userID, creating it on first use.
func (r *Registry) For(userID, displayName string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[userID]; ok {
		return s
	}
	s := &Session{UserID: userID, DisplayName: displayName, Store: state.NewStore(userID)}
	r.sessions[userID] = s
	return s
}

// Anonymous returns a fresh session that is not retained.
func Anonymous() *Session {
	return &Session{Store: state.NewStore("")}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
