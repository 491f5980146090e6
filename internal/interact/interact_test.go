package interact

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alphabot-ai/threadly/internal/docstore"
	"github.com/alphabot-ai/threadly/internal/docstore/sqldoc"
	"github.com/alphabot-ai/threadly/internal/logging"
	"github.com/alphabot-ai/threadly/internal/model"
	"github.com/alphabot-ai/threadly/internal/session"
	"github.com/alphabot-ai/threadly/internal/state"
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

func seedPost(t *testing.T, db docstore.Client, p model.Post) model.Post {
	t.Helper()
	_, err := db.Set(context.Background(), model.PostsPath, p.ID, p)
	require.NoError(t, err)
	return p
}

func storedPost(t *testing.T, db docstore.Client, id string) model.Post {
	t.Helper()
	snap, err := db.Get(context.Background(), model.PostsPath, id)
	require.NoError(t, err)
	var p model.Post
	require.NoError(t, snap.DataTo(&p))
	return p
}

func TestVoteToggleArithmetic(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	post := seedPost(t, db, model.Post{ID: "p1", CommunityID: "golang", VoteStatus: 10})
	c := New(db, logging.Nop())
	sess := session.NewRegistry().For("u1", "alice")
	sess.Dispatch(state.SetPosts{Posts: []model.Post{post}})

	steps := []struct {
		value     int
		wantVote  int
		wantDelta int
		wantScore int
	}{
		{value: 1, wantVote: 1, wantDelta: 1, wantScore: 11},
		{value: -1, wantVote: -1, wantDelta: -2, wantScore: 9},
		{value: -1, wantVote: 0, wantDelta: 1, wantScore: 10},
		{value: -1, wantVote: -1, wantDelta: -1, wantScore: 9},
	}
	for i, step := range steps {
		res, err := c.Vote(ctx, sess, post, step.value)
		require.NoError(t, err, "step %d", i)
		assert.Equal(t, step.wantVote, res.VoteValue, "step %d", i)
		assert.Equal(t, step.wantDelta, res.Delta, "step %d", i)
		assert.Equal(t, step.wantScore, storedPost(t, db, "p1").VoteStatus, "step %d", i)

		st := sess.Snapshot()
		local, _ := st.Post("p1")
		assert.Equal(t, step.wantScore, local.VoteStatus, "step %d", i)
		v, voted := st.VoteFor("p1")
		assert.Equal(t, step.wantVote != 0, voted, "step %d", i)
		if voted {
			assert.Equal(t, step.wantVote, v.VoteValue, "step %d", i)
		}
	}

	_, err := db.Get(ctx, model.VotesPath("u1"), "p1")
	require.NoError(t, err)
}

func TestVoteRejectsBadValue(t *testing.T) {
	db := newTestDB(t)
	post := seedPost(t, db, model.Post{ID: "p1"})
	sess := session.NewRegistry().For("u1", "alice")

	_, err := New(db, logging.Nop()).Vote(context.Background(), sess, post, 2)
	assert.ErrorIs(t, err, ErrInvalidVote)
	assert.Equal(t, 0, storedPost(t, db, "p1").VoteStatus)
}

func TestCreateCommentCountsAndPrepends(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	post := seedPost(t, db, model.Post{ID: "p1", CommunityID: "golang", Title: "Hello", NumberOfComments: 2})
	c := New(db, logging.Nop())
	sess := session.NewRegistry().For("u1", "alice")

	_, err := c.GetPost(ctx, sess, "p1")
	require.NoError(t, err)
	sess.Dispatch(state.SetComments{Comments: []model.Comment{{ID: "old", PostID: "p1"}}})

	cm, err := c.CreateComment(ctx, sess, post, "golang", "  first!  ")
	require.NoError(t, err)
	assert.Equal(t, "first!", cm.Text)
	assert.Equal(t, "alice", cm.CreatorDisplayName)
	assert.Equal(t, "Hello", cm.PostTitle)

	assert.Equal(t, 3, storedPost(t, db, "p1").NumberOfComments)
	st := sess.Snapshot()
	require.Len(t, st.Comments, 2)
	assert.Equal(t, cm.ID, st.Comments[0].ID)
	assert.Equal(t, 3, st.SelectedPost.NumberOfComments)

	loaded, err := c.LoadComments(ctx, sess, "p1")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, cm.ID, loaded[0].ID)
}

func TestCreateCommentOnMissingPostChangesNothing(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	sess := session.NewRegistry().For("u1", "alice")

	_, err := New(db, logging.Nop()).CreateComment(ctx, sess, model.Post{ID: "gone"}, "golang", "hi")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
	assert.Empty(t, sess.Snapshot().Comments)

	snaps, err := db.Query(ctx, docstore.Collection(model.CommentsPath))
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestDeleteCommentAuthorOnly(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	post := seedPost(t, db, model.Post{ID: "p1"})
	c := New(db, logging.Nop())
	reg := session.NewRegistry()
	alice, bob := reg.For("u1", "alice"), reg.For("u2", "bob")

	cm, err := c.CreateComment(ctx, alice, post, "golang", "mine")
	require.NoError(t, err)

	assert.ErrorIs(t, c.DeleteComment(ctx, bob, cm.ID), ErrForbidden)
	require.NoError(t, c.DeleteComment(ctx, alice, cm.ID))
	assert.Equal(t, 0, storedPost(t, db, "p1").NumberOfComments)
	assert.Empty(t, alice.Snapshot().Comments)
}

func TestCreateAndDeletePost(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_, err := db.Set(ctx, model.CommunitiesPath, "golang", model.Community{ID: "golang"})
	require.NoError(t, err)
	c := New(db, logging.Nop())
	reg := session.NewRegistry()
	alice, bob := reg.For("u1", "alice"), reg.For("u2", "bob")

	_, err = c.CreatePost(ctx, alice, NewPost{CommunityID: "nowhere", Title: "x"})
	assert.ErrorIs(t, err, docstore.ErrNotFound)
	_, err = c.CreatePost(ctx, alice, NewPost{CommunityID: "golang", Title: " "})
	assert.ErrorIs(t, err, ErrEmpty)

	post, err := c.CreatePost(ctx, alice, NewPost{CommunityID: "golang", Title: "Generics", Body: "thoughts"})
	require.NoError(t, err)
	assert.Equal(t, "alice", post.CreatorDisplayName)
	require.Len(t, alice.Snapshot().Posts, 1)

	assert.ErrorIs(t, c.DeletePost(ctx, bob, post.ID), ErrForbidden)
	require.NoError(t, c.DeletePost(ctx, alice, post.ID))
	assert.Empty(t, alice.Snapshot().Posts)
	_, err = db.Get(ctx, model.PostsPath, post.ID)
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestWatchCommunityPostsReconciles(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	c := New(db, logging.Nop())
	sess := session.NewRegistry().For("u1", "alice")

	stop := c.WatchCommunityPosts(ctx, sess, "golang")
	defer stop()

	seedPost(t, db, model.Post{ID: "p1", CommunityID: "golang", VoteStatus: 3})
	seedPost(t, db, model.Post{ID: "r1", CommunityID: "rust"})

	require.Eventually(t, func() bool {
		p, ok := sess.Snapshot().Post("p1")
		return ok && p.VoteStatus == 3
	}, 2*time.Second, 10*time.Millisecond)
	_, ok := sess.Snapshot().Post("r1")
	assert.False(t, ok)
}

func TestWatchPostVotesReconciles(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	c := New(db, logging.Nop())
	sess := session.NewRegistry().For("u1", "alice")

	stop := c.WatchPostVotes(ctx, sess, []string{"p1", "p2"})
	defer stop()

	_, err := db.Set(ctx, model.VotesPath("u1"), "p2", model.PostVote{ID: "p2", PostID: "p2", VoteValue: -1})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v, ok := sess.Snapshot().VoteFor("p2")
		return ok && v.VoteValue == -1
	}, 2*time.Second, 10*time.Millisecond)
}

// gatedTransactions holds every transaction until release is closed.
type gatedTransactions struct {
	docstore.Client
	pending chan struct{}
	release chan struct{}
}

func (g gatedTransactions) RunTransaction(_ context.Context, fn func(context.Context, docstore.Tx) error) ([]docstore.WriteResult, error) {
	g.pending <- struct{}{}
	<-g.release
	return g.Client.RunTransaction(context.Background(), fn)
}

func TestVoteAfterViewClosedDoesNotMutateState(t *testing.T) {
	db := newTestDB(t)
	post := seedPost(t, db, model.Post{ID: "p1", CommunityID: "golang", VoteStatus: 5})
	gated := gatedTransactions{Client: db, pending: make(chan struct{}, 1), release: make(chan struct{})}
	c := New(gated, logging.Nop())
	sess := session.NewRegistry().For("u1", "alice")
	sess.Dispatch(state.SetPosts{Posts: []model.Post{post}})

	view, closeView := context.WithCancel(context.Background())
	stop := c.WatchPostVotes(view, sess, []string{"p1"})

	done := make(chan error, 1)
	go func() {
		_, err := c.Vote(view, sess, post, 1)
		done <- err
	}()

	select {
	case <-gated.pending:
	case <-time.After(2 * time.Second):
		t.Fatal("vote never reached commit")
	}
	stop()
	closeView()
	before := sess.Snapshot()
	close(gated.release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("vote did not return")
	}
	time.Sleep(100 * time.Millisecond)

	after := sess.Snapshot()
	assert.Equal(t, before.Posts, after.Posts)
	assert.Equal(t, before.PostVotes, after.PostVotes)
	assert.Equal(t, 5, after.Posts[0].VoteStatus)
	assert.Equal(t, 6, storedPost(t, db, "p1").VoteStatus)
}

func TestConcurrentVotesFromTwoInstancesStayConsistent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	post := seedPost(t, db, model.Post{ID: "p1", CommunityID: "golang"})
	c := New(db, logging.Nop())

	// One user served by two processes, each with its own session cache.
	a := session.NewRegistry().For("u1", "alice")
	b := session.NewRegistry().For("u1", "alice")

	for round := 0; round < 20; round++ {
		start := make(chan struct{})
		var wg sync.WaitGroup
		for _, sess := range []*session.Session{a, b} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := c.Vote(ctx, sess, post, 1)
				assert.NoError(t, err)
			}()
		}
		close(start)
		wg.Wait()

		want := 0
		if snap, err := db.Get(ctx, model.VotesPath("u1"), "p1"); err == nil {
			var v model.PostVote
			require.NoError(t, snap.DataTo(&v))
			want = v.VoteValue
		}
		require.Equal(t, want, storedPost(t, db, "p1").VoteStatus, "round %d", round)
		require.Zero(t, want, "round %d", round)
	}
}
