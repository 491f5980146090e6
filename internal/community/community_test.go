package community

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/alphabot-ai/threadly/internal/docstore"
	"github.com/alphabot-ai/threadly/internal/docstore/sqldoc"
	"github.com/alphabot-ai/threadly/internal/logging"
	"github.com/alphabot-ai/threadly/internal/model"
	"github.com/alphabot-ai/threadly/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sqldoc.Store {
	t.Helper()
	name := strings.NewReplacer("/", "_").Replace(t.Name())
	st, err := sqldoc.OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestValidName(t *testing.T) {
	cases := map[string]bool{
		"go":                     false,
		"golang":                 true,
		"go_lang_2":              true,
		"has space":              false,
		"dash-ed":                false,
		"exactly_twenty_one_ch":  true,
		"twenty_two_characters_": false,
		"ünïcode":                false,
	}
	for name, want := range cases {
		assert.Equal(t, want, ValidName(name), name)
	}
}

func TestCreateCommunity(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	svc := New(db, logging.Nop())
	sess := session.NewRegistry().For("u1", "alice")

	c, err := svc.Create(ctx, sess, "golang", "")
	require.NoError(t, err)
	assert.Equal(t, model.PrivacyPublic, c.PrivacyType)
	assert.Equal(t, 1, c.NumberOfMembers)

	got, err := svc.Get(ctx, "golang")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.CreatorID)

	snap, err := db.Get(ctx, model.SnippetsPath("u1"), "golang")
	require.NoError(t, err)
	var sn model.CommunitySnippet
	require.NoError(t, snap.DataTo(&sn))
	assert.True(t, sn.IsModerator)

	st := sess.Snapshot()
	require.True(t, st.IsMember("golang"))
	assert.Equal(t, 1, st.Visited["golang"].NumberOfMembers)
}

func TestCreateCommunityTaken(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	svc := New(db, logging.Nop())
	reg := session.NewRegistry()

	_, err := svc.Create(ctx, reg.For("u1", "alice"), "golang", model.PrivacyRestricted)
	require.NoError(t, err)

	bob := reg.For("u2", "bob")
	_, err = svc.Create(ctx, bob, "golang", model.PrivacyPublic)
	assert.ErrorIs(t, err, ErrCommunityTaken)
	assert.Empty(t, bob.Snapshot().MySnippets)
	_, err = db.Get(ctx, model.SnippetsPath("u2"), "golang")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestCreateCommunityRejects(t *testing.T) {
	svc := New(newTestDB(t), logging.Nop())
	sess := session.NewRegistry().For("u1", "alice")

	_, err := svc.Create(context.Background(), sess, "x", model.PrivacyPublic)
	assert.ErrorIs(t, err, ErrInvalidCommunityName)
	_, err = svc.Create(context.Background(), sess, "golang", "secret")
	assert.ErrorIs(t, err, ErrInvalidPrivacy)
	_, err = svc.Create(context.Background(), session.Anonymous(), "golang", "")
	assert.ErrorIs(t, err, session.ErrSignedOut)
}

func TestVisitCachesFirstFetch(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_, err := db.Set(ctx, model.CommunitiesPath, "golang", model.Community{ID: "golang", NumberOfMembers: 7})
	require.NoError(t, err)
	svc := New(db, logging.Nop())
	sess := session.NewRegistry().For("u1", "alice")

	c, err := svc.Visit(ctx, sess, "golang")
	require.NoError(t, err)
	assert.Equal(t, 7, c.NumberOfMembers)

	_, err = db.Update(ctx, model.CommunitiesPath, "golang", map[string]any{"numberOfMembers": 8})
	require.NoError(t, err)
	c, err = svc.Visit(ctx, sess, "golang")
	require.NoError(t, err)
	assert.Equal(t, 7, c.NumberOfMembers)

	_, err = svc.Visit(ctx, sess, "missing")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}
