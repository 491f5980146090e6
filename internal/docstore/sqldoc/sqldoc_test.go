package sqldoc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alphabot-ai/threadly/internal/docstore"
	"github.com/alphabot-ai/threadly/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	name := strings.NewReplacer("/", "_").Replace(t.Name())
	st, err := OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestDocumentLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	post := model.Post{ID: "p1", CommunityID: "golang", Title: "Hello", CreatedAt: model.Now()}
	first, err := st.Set(ctx, "posts", post.ID, post)
	if err != nil {
		t.Fatalf("set post: %v", err)
	}

	second, err := st.Update(ctx, "posts", "p1", map[string]any{
		"numberOfComments": docstore.Increment{N: 1},
		"title":            "Hello, world",
	})
	if err != nil {
		t.Fatalf("update post: %v", err)
	}
	if second.Seq <= first.Seq {
		t.Fatalf("expected seq to grow, got %d then %d", first.Seq, second.Seq)
	}

	snap, err := st.Get(ctx, "posts", "p1")
	if err != nil {
		t.Fatalf("get post: %v", err)
	}
	var got model.Post
	if err := snap.DataTo(&got); err != nil {
		t.Fatalf("decode post: %v", err)
	}
	if got.NumberOfComments != 1 || got.Title != "Hello, world" {
		t.Fatalf("unexpected post: %+v", got)
	}
	if snap.Seq != second.Seq {
		t.Fatalf("expected snapshot seq %d, got %d", second.Seq, snap.Seq)
	}
	if !got.CreatedAt.Equal(post.CreatedAt.Time) {
		t.Fatalf("createdAt changed: %v vs %v", got.CreatedAt, post.CreatedAt)
	}

	if err := st.Delete(ctx, "posts", "p1"); err != nil {
		t.Fatalf("delete post: %v", err)
	}
	if _, err := st.Get(ctx, "posts", "p1"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateMissingDocument(t *testing.T) {
	st := newTestStore(t)
	_, err := st.Update(context.Background(), "posts", "nope", map[string]any{"voteStatus": docstore.Increment{N: 1}})
	if !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteMissingIsNoop(t *testing.T) {
	st := newTestStore(t)
	if err := st.Delete(context.Background(), "users/u1/communitySnippets", "golang"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}

func TestServerTimestamp(t *testing.T) {
	fixed := time.UnixMilli(1_700_000_000_000)
	name := strings.NewReplacer("/", "_").Replace(t.Name())
	st, err := OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", name), WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	if _, err := st.Set(context.Background(), "comments", "c1", map[string]any{
		"text":      "first",
		"createdAt": docstore.ServerTimestamp,
	}); err != nil {
		t.Fatalf("set comment: %v", err)
	}
	snap, err := st.Get(context.Background(), "comments", "c1")
	if err != nil {
		t.Fatalf("get comment: %v", err)
	}
	var c model.Comment
	if err := snap.DataTo(&c); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !c.CreatedAt.Equal(fixed) {
		t.Fatalf("expected %v, got %v", fixed, c.CreatedAt)
	}
}

func TestQueryFiltersOrderAndLimit(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i, score := range []int{5, 1, 9, 3} {
		p := model.Post{ID: fmt.Sprintf("p%d", i), CommunityID: "golang", VoteStatus: score}
		if i == 3 {
			p.CommunityID = "rust"
		}
		if _, err := st.Set(ctx, "posts", p.ID, p); err != nil {
			t.Fatalf("set: %v", err)
		}
	}

	snaps, err := st.Query(ctx, docstore.Collection("posts").
		Where("communityId", docstore.OpEqual, "golang").
		OrderBy("voteStatus", docstore.Desc).
		Limit(2))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(snaps) != 2 || snaps[0].ID != "p2" || snaps[1].ID != "p0" {
		t.Fatalf("unexpected order: %+v", ids(snaps))
	}

	snaps, err = st.Query(ctx, docstore.Collection("posts").
		Where("voteStatus", docstore.OpGreaterEqual, 3).
		OrderBy("voteStatus", docstore.Asc))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got := ids(snaps); strings.Join(got, ",") != "p3,p0,p2" {
		t.Fatalf("unexpected ids: %v", got)
	}

	snaps, err = st.Query(ctx, docstore.Collection("posts").
		Where("communityId", docstore.OpIn, docstore.Strings([]string{"rust", "zig"})))
	if err != nil {
		t.Fatalf("query in: %v", err)
	}
	if len(snaps) != 1 || snaps[0].ID != "p3" {
		t.Fatalf("unexpected in result: %v", ids(snaps))
	}
}

func TestQueryRejectsBadField(t *testing.T) {
	st := newTestStore(t)
	_, err := st.Query(context.Background(), docstore.Collection("posts").Where("x') OR 1=1 --", docstore.OpEqual, 1))
	if !errors.Is(err, docstore.ErrInvalidField) {
		t.Fatalf("expected ErrInvalidField, got %v", err)
	}
}

func TestBatchIsAtomic(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.Batch().
		Set("comments", "c1", model.Comment{ID: "c1", PostID: "missing"}).
		Update("posts", "missing", map[string]any{"numberOfComments": docstore.Increment{N: 1}}).
		Commit(ctx)
	if !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := st.Get(ctx, "comments", "c1"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("comment should not exist after failed batch, got %v", err)
	}
}

func TestRunTransaction(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	create := func() error {
		_, err := st.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
			if _, err := tx.Get(ctx, "communities", "golang"); err == nil {
				return errors.New("taken")
			} else if !errors.Is(err, docstore.ErrNotFound) {
				return err
			}
			tx.Set("communities", "golang", model.Community{ID: "golang", NumberOfMembers: 1})
			tx.Set("users/u1/communitySnippets", "golang", model.CommunitySnippet{CommunityID: "golang", IsModerator: true})
			return nil
		})
		return err
	}
	if err := create(); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := create(); err == nil || err.Error() != "taken" {
		t.Fatalf("expected taken, got %v", err)
	}
	if _, err := st.Get(ctx, "users/u1/communitySnippets", "golang"); err != nil {
		t.Fatalf("snippet missing: %v", err)
	}
}

func TestListenDeliversUntilUnsubscribed(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	got := make(chan int, 16)
	var lastSeq uint64
	unsubscribe := st.Listen(ctx, docstore.Collection("users/u1/postVotes"), func(snap docstore.QuerySnapshot) {
		lastSeq = snap.Seq
		got <- len(snap.Docs)
	})

	expect := func(n int) {
		t.Helper()
		select {
		case v := <-got:
			if v != n {
				t.Fatalf("expected %d docs, got %d", n, v)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %d docs", n)
		}
	}
	expect(0)

	res, err := st.Set(ctx, "users/u1/postVotes", "v1", model.PostVote{ID: "v1", PostID: "p1", VoteValue: 1})
	if err != nil {
		t.Fatalf("set vote: %v", err)
	}
	expect(1)
	if lastSeq < res.Seq {
		t.Fatalf("snapshot seq %d older than write %d", lastSeq, res.Seq)
	}

	// Writes to other collections do not wake the listener.
	if _, err := st.Set(ctx, "users/u2/postVotes", "v2", model.PostVote{ID: "v2"}); err != nil {
		t.Fatalf("set other vote: %v", err)
	}

	unsubscribe()
	if _, err := st.Set(ctx, "users/u1/postVotes", "v3", model.PostVote{ID: "v3"}); err != nil {
		t.Fatalf("set vote: %v", err)
	}
	select {
	case v := <-got:
		t.Fatalf("unexpected delivery after unsubscribe: %d", v)
	case <-time.After(100 * time.Millisecond):
	}
}

func ids(snaps []docstore.Snapshot) []string {
	out := make([]string, len(snaps))
	for i, s := range snaps {
		out[i] = s.ID
	}
	return out
}
