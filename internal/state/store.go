package state

import (
	"context"
	"errors"
	"sync"
)

// ErrBusy is returned when an action is already in flight for a key.
var ErrBusy = errors.New("operation already in progress")

// Store serializes dispatches for one user's state and notifies
// subscribers after each change, in dispatch order. Subscribers must not
// dispatch.
type Store struct {
	// notify is held from reduce through delivery so that subscribers see
	// states in the order they were produced.
	notify sync.Mutex
	mu     sync.Mutex
	st     State
	subs   map[int]func(State)
	next   int
	inUse  map[string]bool
}

func NewStore(userID string) *Store {
	return &Store{
		st:    New(userID),
		subs:  make(map[int]func(State)),
		inUse: make(map[string]bool),
	}
}

// Dispatch applies actions in order and returns the resulting state.
func (s *Store) Dispatch(actions ...Action) State {
	s.notify.Lock()
	defer s.notify.Unlock()

	s.mu.Lock()
	for _, a := range actions {
		s.st = Reduce(s.st, a)
	}
	st := s.st.Clone()
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(st.Clone())
	}
	return st
}

// Apply dispatches actions unless ctx is already done. Controllers call
// it after a write resolves so that a caller that went away never causes
// a late state change.
func (s *Store) Apply(ctx context.Context, actions ...Action) bool {
	if ctx.Err() != nil {
		return false
	}
	s.Dispatch(actions...)
	return true
}

func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.Clone()
}

// Subscribe registers fn to receive the state after every dispatch.
func (s *Store) Subscribe(fn func(State)) (cancel func()) {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// TryBegin marks key as in flight and sets its loading flag. It returns
// ErrBusy when key is already in flight. Callers must End the key.
func (s *Store) TryBegin(key string) error {
	s.mu.Lock()
	if s.inUse[key] {
		s.mu.Unlock()
		return ErrBusy
	}
	s.inUse[key] = true
	s.mu.Unlock()
	s.Dispatch(SetLoading{Key: key, On: true})
	return nil
}

func (s *Store) End(key string) {
	s.mu.Lock()
	delete(s.inUse, key)
	s.mu.Unlock()
	s.Dispatch(SetLoading{Key: key, On: false})
}
