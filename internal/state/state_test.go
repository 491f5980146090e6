package state

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alphabot-ai/threadly/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinAndLeaveAreIdempotent(t *testing.T) {
	s := New("u1")
	s = Reduce(s, VisitCommunity{Community: model.Community{ID: "golang", NumberOfMembers: 4}})

	join := JoinCommunity{Snippet: model.CommunitySnippet{CommunityID: "golang"}}
	s = Reduce(s, join)
	s = Reduce(s, join)
	require.Len(t, s.MySnippets, 1)
	assert.Equal(t, 5, s.Visited["golang"].NumberOfMembers)

	s = Reduce(s, LeaveCommunity{CommunityID: "rust"})
	assert.Len(t, s.MySnippets, 1)

	s = Reduce(s, LeaveCommunity{CommunityID: "golang"})
	s = Reduce(s, LeaveCommunity{CommunityID: "golang"})
	assert.Empty(t, s.MySnippets)
	assert.Equal(t, 4, s.Visited["golang"].NumberOfMembers)
}

func TestReduceDoesNotModifyInput(t *testing.T) {
	before := Reduce(New("u1"), SetPosts{Posts: []model.Post{{ID: "p1", VoteStatus: 1}}})
	after := Reduce(before, ApplyVote{PostID: "p1", Delta: 1, Vote: &model.PostVote{ID: "p1", PostID: "p1", VoteValue: 1}, VoteSeq: 3, PostSeq: 3})

	assert.Equal(t, 1, before.Posts[0].VoteStatus)
	assert.Empty(t, before.PostVotes)
	assert.Equal(t, 2, after.Posts[0].VoteStatus)
	assert.Len(t, after.PostVotes, 1)
}

func TestAddCommentPrependsAndCounts(t *testing.T) {
	post := model.Post{ID: "p1", NumberOfComments: 1}
	s := Reduce(New("u1"), SetPosts{Posts: []model.Post{post}})
	s = Reduce(s, SelectPost{Post: &post})
	s = Reduce(s, SetComments{Comments: []model.Comment{{ID: "c1", PostID: "p1"}}})

	s = Reduce(s, AddComment{Comment: model.Comment{ID: "c2", PostID: "p1"}, PostSeq: 7})

	require.Len(t, s.Comments, 2)
	assert.Equal(t, "c2", s.Comments[0].ID)
	assert.Equal(t, 2, s.Posts[0].NumberOfComments)
	assert.Equal(t, 2, s.SelectedPost.NumberOfComments)
}

func TestVoteToggleRemovesVote(t *testing.T) {
	s := Reduce(New("u1"), SetPosts{Posts: []model.Post{{ID: "p1", VoteStatus: 1}}})
	s = Reduce(s, SetPostVotes{Votes: []model.PostVote{{ID: "p1", PostID: "p1", VoteValue: 1}}})

	s = Reduce(s, ApplyVote{PostID: "p1", Delta: -1, VoteSeq: 4, PostSeq: 4})

	_, voted := s.VoteFor("p1")
	assert.False(t, voted)
	assert.Equal(t, 0, s.Posts[0].VoteStatus)
}

func TestStalePushKeepsNewerLocalValues(t *testing.T) {
	s := Reduce(New("u1"), SetPosts{Posts: []model.Post{{ID: "p1", CommunityID: "golang", VoteStatus: 1}}})
	s = Reduce(s, ApplyVote{PostID: "p1", Delta: 1, Vote: &model.PostVote{ID: "p1", PostID: "p1", VoteValue: 1}, VoteSeq: 10, PostSeq: 10})
	s = Reduce(s, AddPost{Post: model.Post{ID: "p2", CommunityID: "golang"}, Seq: 11})

	// A push computed before both writes.
	s = Reduce(s, ReconcilePosts{
		CommunityID: "golang",
		Posts:       []model.Post{{ID: "p1", CommunityID: "golang", VoteStatus: 1}},
		Seq:         9,
	})
	s = Reduce(s, ReconcileVotes{PostIDs: []string{"p1"}, Seq: 9})

	require.Len(t, s.Posts, 2)
	p1, _ := s.Post("p1")
	assert.Equal(t, 2, p1.VoteStatus)
	_, ok := s.Post("p2")
	assert.True(t, ok)
	v, ok := s.VoteFor("p1")
	require.True(t, ok)
	assert.Equal(t, 1, v.VoteValue)
}

func TestFreshPushIsAuthoritative(t *testing.T) {
	s := Reduce(New("u1"), SetPosts{Posts: []model.Post{
		{ID: "p1", CommunityID: "golang", VoteStatus: 1},
		{ID: "x", CommunityID: "rust"},
	}})
	s = Reduce(s, ApplyVote{PostID: "p1", Delta: 1, Vote: &model.PostVote{ID: "p1", PostID: "p1", VoteValue: 1}, VoteSeq: 10, PostSeq: 10})

	s = Reduce(s, ReconcilePosts{
		CommunityID: "golang",
		Posts:       []model.Post{{ID: "p1", CommunityID: "golang", VoteStatus: 5}, {ID: "p3", CommunityID: "golang"}},
		Seq:         12,
	})

	require.Len(t, s.Posts, 3)
	assert.Equal(t, "p1", s.Posts[0].ID)
	assert.Equal(t, 5, s.Posts[0].VoteStatus)
	assert.Equal(t, "p3", s.Posts[1].ID)
	assert.Equal(t, "x", s.Posts[2].ID)
	_, tracked := s.Versions[postKey("p1")]
	assert.False(t, tracked)
}

func TestStalePushDoesNotResurrectDeletedPost(t *testing.T) {
	post := model.Post{ID: "p1", CommunityID: "golang"}
	s := Reduce(New("u1"), SetPosts{Posts: []model.Post{post}})
	s = Reduce(s, SelectPost{Post: &post})
	s = Reduce(s, RemovePost{PostID: "p1", Seq: 20})

	s = Reduce(s, ReconcilePosts{CommunityID: "golang", Posts: []model.Post{post}, Seq: 19})

	assert.Empty(t, s.Posts)
	assert.Nil(t, s.SelectedPost)
}

func TestStoreTryBeginRejectsDoubleSubmit(t *testing.T) {
	st := NewStore("u1")

	require.NoError(t, st.TryBegin(LoadingFeed))
	assert.ErrorIs(t, st.TryBegin(LoadingFeed), ErrBusy)
	assert.True(t, st.Snapshot().Loading[LoadingFeed])

	st.End(LoadingFeed)
	assert.False(t, st.Snapshot().Loading[LoadingFeed])
	require.NoError(t, st.TryBegin(LoadingFeed))
}

func TestStoreApplySkipsCancelledContext(t *testing.T) {
	st := NewStore("u1")
	var seen int
	cancelSub := st.Subscribe(func(State) { seen++ })
	defer cancelSub()

	ctx, cancel := context.WithCancel(context.Background())
	assert.True(t, st.Apply(ctx, SetPosts{Posts: []model.Post{{ID: "p1"}}}))
	cancel()
	assert.False(t, st.Apply(ctx, SetPosts{}))

	assert.Len(t, st.Snapshot().Posts, 1)
	assert.Equal(t, 1, seen)
}

func TestStoreDeliversStatesInDispatchOrder(t *testing.T) {
	for round := 0; round < 50; round++ {
		st := NewStore("u1")
		var (
			mu   sync.Mutex
			last State
		)
		cancel := st.Subscribe(func(s State) {
			// A slow subscriber on an early state must not let it land
			// after a later one.
			if len(s.MySnippets) == 1 {
				time.Sleep(time.Millisecond)
			}
			mu.Lock()
			last = s
			mu.Unlock()
		})

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				st.Dispatch(JoinCommunity{Snippet: model.CommunitySnippet{CommunityID: fmt.Sprintf("c%d", i)}})
			}()
		}
		wg.Wait()
		cancel()

		mu.Lock()
		require.Len(t, last.MySnippets, 8, "round %d", round)
		assert.Equal(t, st.Snapshot().MySnippets, last.MySnippets)
		mu.Unlock()
	}
}

func TestMergePostVotesKeepsOtherPosts(t *testing.T) {
	s := Reduce(New("u1"), SetPostVotes{Votes: []model.PostVote{
		{ID: "p1", PostID: "p1", VoteValue: 1},
		{ID: "p2", PostID: "p2", VoteValue: -1},
	}})

	s = Reduce(s, MergePostVotes{PostIDs: []string{"p2", "p3"}, Votes: []model.PostVote{{ID: "p3", PostID: "p3", VoteValue: 1}}})

	require.Len(t, s.PostVotes, 2)
	_, voted := s.VoteFor("p2")
	assert.False(t, voted)
	v, ok := s.VoteFor("p1")
	require.True(t, ok)
	assert.Equal(t, 1, v.VoteValue)
	_, ok = s.VoteFor("p3")
	assert.True(t, ok)
}
