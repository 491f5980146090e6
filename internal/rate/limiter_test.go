package rate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewMemory()
	m.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		ok, _ := m.Allow("vote:1.2.3.4", 3, time.Minute)
		assert.True(t, ok, "request %d", i)
	}
	ok, retry := m.Allow("vote:1.2.3.4", 3, time.Minute)
	assert.False(t, ok)
	assert.Equal(t, time.Minute, retry)

	ok, _ = m.Allow("vote:5.6.7.8", 3, time.Minute)
	assert.True(t, ok)

	now = now.Add(61 * time.Second)
	assert.Equal(t, 2, m.Sweep())
	ok, _ = m.Allow("vote:1.2.3.4", 3, time.Minute)
	assert.True(t, ok)
}

func TestPolicyKeysByAction(t *testing.T) {
	m := NewMemory()
	p := PerMinute(1, 1, 0, 1)

	ok, _ := p.Allow(m, ActionPost, "u1")
	assert.True(t, ok)
	ok, _ = p.Allow(m, ActionPost, "u1")
	assert.False(t, ok)
	ok, _ = p.Allow(m, ActionComment, "u1")
	assert.True(t, ok)

	for i := 0; i < 10; i++ {
		ok, _ = p.Allow(m, ActionVote, "u1")
		assert.True(t, ok)
	}
}
