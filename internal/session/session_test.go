package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryReusesSessions(t *testing.T) {
	r := NewRegistry()
	a := r.For("u1", "alice")
	b := r.For("u1", "")

	require.Same(t, a, b)
	assert.Equal(t, "alice", b.DisplayName)
	assert.Equal(t, 1, r.Len())
	assert.NotSame(t, a, r.For("u2", "bob"))
}

func TestAnonymousSession(t *testing.T) {
	s := Anonymous()
	assert.False(t, s.SignedIn())
	assert.ErrorIs(t, s.RequireUser(), ErrSignedOut)
	assert.NotSame(t, s, Anonymous())
}
