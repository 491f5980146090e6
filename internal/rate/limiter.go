package rate

import (
	"sync"
	"time"
)

type Limiter interface {
	Allow(key string, limit int, window time.Duration) (bool, time.Duration)
}

// Actions limited per client.
const (
	ActionPost    = "post"
	ActionComment = "comment"
	ActionVote    = "vote"
	ActionJoin    = "join"
)

type Rule struct {
	Limit  int
	Window time.Duration
}

// Policy maps actions to their rules. Actions without a rule, or with a
// non-positive limit, are unlimited.
type Policy map[string]Rule

func PerMinute(post, comment, vote, join int) Policy {
	return Policy{
		ActionPost:    {Limit: post, Window: time.Minute},
		ActionComment: {Limit: comment, Window: time.Minute},
		ActionVote:    {Limit: vote, Window: time.Minute},
		ActionJoin:    {Limit: join, Window: time.Minute},
	}
}

// Allow checks action for client against p.
func (p Policy) Allow(l Limiter, action, client string) (bool, time.Duration) {
	r, ok := p[action]
	if !ok || r.Limit <= 0 {
		return true, 0
	}
	return l.Allow(action+":"+client, r.Limit, r.Window)
}

// MemoryLimiter is a fixed-window counter per key.
type MemoryLimiter struct {
	mu    sync.Mutex
	store map[string]*bucket
	now   func() time.Time
}

type bucket struct {
	count   int
	resetAt time.Time
	window  time.Duration
}

func NewMemory() *MemoryLimiter {
	return &MemoryLimiter{store: make(map[string]*bucket), now: time.Now}
}

func (m *MemoryLimiter) Allow(key string, limit int, window time.Duration) (bool, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	b, ok := m.store[key]
	if !ok || now.After(b.resetAt) || b.window != window {
		b = &bucket{count: 0, resetAt: now.Add(window), window: window}
		m.store[key] = b
	}

	if b.count >= limit {
		return false, b.resetAt.Sub(now)
	}

	b.count++
	return true, b.resetAt.Sub(now)
}

// Sweep drops expired windows and returns how many were dropped.
func (m *MemoryLimiter) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for k, b := range m.store {
		if now.After(b.resetAt) {
			delete(m.store, k)
			n++
		}
	}
	return n
}
