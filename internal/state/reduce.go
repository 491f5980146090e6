package state

import (
	"github.com/alphabot-ai/threadly/internal/model"
)

// Action is a state transition. Apply one with Reduce or Store.Dispatch.
type Action interface {
	action()
}

// SetSnippets replaces the cached memberships and marks them fetched.
type SetSnippets struct {
	Snippets []model.CommunitySnippet
}

// JoinCommunity records a confirmed join.
type JoinCommunity struct {
	Snippet model.CommunitySnippet
}

// LeaveCommunity records a confirmed leave.
type LeaveCommunity struct {
	CommunityID string
}

type VisitCommunity struct {
	Community model.Community
}

// SetPosts replaces the visible post list.
type SetPosts struct {
	Posts []model.Post
}

// AddPost prepends a post the user just created.
type AddPost struct {
	Post model.Post
	Seq  uint64
}

// RemovePost drops a deleted post from the visible list and selection.
type RemovePost struct {
	PostID string
	Seq    uint64
}

type SelectPost struct {
	Post *model.Post
}

type SetPostVotes struct {
	Votes []model.PostVote
}

// MergePostVotes replaces the votes on PostIDs with Votes and keeps the
// rest.
type MergePostVotes struct {
	PostIDs []string
	Votes   []model.PostVote
}

// ApplyVote records a committed vote change. Vote is nil when the vote
// was removed. Delta is added to the post's score.
type ApplyVote struct {
	PostID  string
	Delta   int
	Vote    *model.PostVote
	VoteSeq uint64
	PostSeq uint64
}

type SetComments struct {
	Comments []model.Comment
}

// AddComment prepends a committed comment and bumps its post's count.
type AddComment struct {
	Comment model.Comment
	PostSeq uint64
}

// RemoveComment drops a deleted comment and lowers its post's count.
type RemoveComment struct {
	CommentID string
	PostID    string
	PostSeq   uint64
}

// ReconcilePosts applies a pushed result set for one community's posts.
type ReconcilePosts struct {
	CommunityID string
	Posts       []model.Post
	Seq         uint64
}

// ReconcileVotes applies a pushed result set of the user's votes on
// PostIDs.
type ReconcileVotes struct {
	PostIDs []string
	Votes   []model.PostVote
	Seq     uint64
}

type SetLoading struct {
	Key string
	On  bool
}

func (SetSnippets) action()    {}
func (JoinCommunity) action()  {}
func (LeaveCommunity) action() {}
func (VisitCommunity) action() {}
func (SetPosts) action()       {}
func (AddPost) action()        {}
func (RemovePost) action()     {}
func (SelectPost) action()     {}
func (SetPostVotes) action()   {}
func (MergePostVotes) action() {}
func (ApplyVote) action()      {}
func (SetComments) action()    {}
func (AddComment) action()     {}
func (RemoveComment) action()  {}
func (ReconcilePosts) action() {}
func (ReconcileVotes) action() {}
func (SetLoading) action()     {}

// Reduce returns the state after a. s is not modified.
func Reduce(s State, a Action) State {
	next := s.Clone()
	switch a := a.(type) {
	case SetSnippets:
		next.MySnippets = append([]model.CommunitySnippet(nil), a.Snippets...)
		next.SnippetsFetched = true

	case JoinCommunity:
		if next.IsMember(a.Snippet.CommunityID) {
			break
		}
		next.MySnippets = append(next.MySnippets, a.Snippet)
		if c, ok := next.Visited[a.Snippet.CommunityID]; ok {
			c.NumberOfMembers++
			next.Visited[c.ID] = c
		}

	case LeaveCommunity:
		if !next.IsMember(a.CommunityID) {
			break
		}
		kept := next.MySnippets[:0]
		for _, sn := range next.MySnippets {
			if sn.CommunityID != a.CommunityID {
				kept = append(kept, sn)
			}
		}
		next.MySnippets = kept
		if c, ok := next.Visited[a.CommunityID]; ok {
			c.NumberOfMembers--
			next.Visited[c.ID] = c
		}

	case VisitCommunity:
		next.Visited[a.Community.ID] = a.Community

	case SetPosts:
		next.Posts = append([]model.Post(nil), a.Posts...)

	case AddPost:
		next.Posts = append([]model.Post{a.Post}, next.Posts...)
		next.Versions[postKey(a.Post.ID)] = Version{Seq: a.Seq}

	case RemovePost:
		next.Posts = removePost(next.Posts, a.PostID)
		if next.SelectedPost != nil && next.SelectedPost.ID == a.PostID {
			next.SelectedPost = nil
		}
		next.Versions[postKey(a.PostID)] = Version{Seq: a.Seq, Deleted: true}

	case SelectPost:
		next.SelectedPost = nil
		if a.Post != nil {
			p := *a.Post
			next.SelectedPost = &p
		}

	case SetPostVotes:
		next.PostVotes = append([]model.PostVote(nil), a.Votes...)

	case MergePostVotes:
		drop := make(map[string]bool, len(a.PostIDs))
		for _, id := range a.PostIDs {
			drop[id] = true
		}
		votes := next.PostVotes[:0]
		for _, v := range next.PostVotes {
			if !drop[v.PostID] {
				votes = append(votes, v)
			}
		}
		next.PostVotes = append(votes, a.Votes...)

	case ApplyVote:
		next.updatePost(a.PostID, func(p *model.Post) { p.VoteStatus += a.Delta })
		next.bump(postKey(a.PostID), a.PostSeq, false)
		votes := next.PostVotes[:0]
		for _, v := range next.PostVotes {
			if v.PostID != a.PostID {
				votes = append(votes, v)
			}
		}
		next.PostVotes = votes
		if a.Vote != nil {
			next.PostVotes = append(next.PostVotes, *a.Vote)
		}
		next.bump(voteKey(a.PostID), a.VoteSeq, a.Vote == nil)

	case SetComments:
		next.Comments = append([]model.Comment(nil), a.Comments...)

	case AddComment:
		next.Comments = append([]model.Comment{a.Comment}, next.Comments...)
		next.updatePost(a.Comment.PostID, func(p *model.Post) { p.NumberOfComments++ })
		next.bump(postKey(a.Comment.PostID), a.PostSeq, false)

	case RemoveComment:
		kept := next.Comments[:0]
		for _, c := range next.Comments {
			if c.ID != a.CommentID {
				kept = append(kept, c)
			}
		}
		next.Comments = kept
		next.updatePost(a.PostID, func(p *model.Post) { p.NumberOfComments-- })
		next.bump(postKey(a.PostID), a.PostSeq, false)

	case ReconcilePosts:
		inScope := func(p model.Post) bool { return p.CommunityID == a.CommunityID }
		key := func(p model.Post) string { return postKey(p.ID) }
		next.Posts = reconcile(next.Posts, a.Posts, inScope, key, next.Versions, a.Seq)
		if next.SelectedPost != nil && inScope(*next.SelectedPost) {
			next.SelectedPost = selectedAfterPush(*next.SelectedPost, a.Posts, next.Versions, a.Seq)
		}

	case ReconcileVotes:
		ids := make(map[string]bool, len(a.PostIDs))
		for _, id := range a.PostIDs {
			ids[id] = true
		}
		inScope := func(v model.PostVote) bool { return ids[v.PostID] }
		key := func(v model.PostVote) string { return voteKey(v.PostID) }
		next.PostVotes = reconcile(next.PostVotes, a.Votes, inScope, key, next.Versions, a.Seq)

	case SetLoading:
		if a.On {
			next.Loading[a.Key] = true
		} else {
			delete(next.Loading, a.Key)
		}
	}
	return next
}

func (s *State) updatePost(id string, fn func(*model.Post)) {
	for i := range s.Posts {
		if s.Posts[i].ID == id {
			fn(&s.Posts[i])
		}
	}
	if s.SelectedPost != nil && s.SelectedPost.ID == id {
		fn(s.SelectedPost)
	}
}

// bump records a local write unless a newer one is already recorded.
func (s *State) bump(key string, seq uint64, deleted bool) {
	if seq == 0 {
		return
	}
	if v, ok := s.Versions[key]; ok && v.Seq > seq {
		return
	}
	s.Versions[key] = Version{Seq: seq, Deleted: deleted}
}

func removePost(posts []model.Post, id string) []model.Post {
	kept := posts[:0]
	for _, p := range posts {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	return kept
}

// reconcile replaces the in-scope part of local with pushed, except for
// entities written locally after the push's sequence: those keep their
// local value (or stay deleted). Out-of-scope entries follow unchanged.
func reconcile[T any](local, pushed []T, inScope func(T) bool, key func(T) string, versions map[string]Version, seq uint64) []T {
	newer := func(k string) (Version, bool) {
		v, ok := versions[k]
		return v, ok && v.Seq > seq
	}

	pushedKeys := make(map[string]bool, len(pushed))
	for _, p := range pushed {
		pushedKeys[key(p)] = true
	}
	localByKey := make(map[string]T)
	var out, rest []T
	for _, l := range local {
		if !inScope(l) {
			rest = append(rest, l)
			continue
		}
		k := key(l)
		localByKey[k] = l
		if v, ok := newer(k); ok && !v.Deleted && !pushedKeys[k] {
			out = append(out, l)
		}
	}
	for _, p := range pushed {
		k := key(p)
		if v, ok := newer(k); ok {
			if v.Deleted {
				continue
			}
			if l, ok := localByKey[k]; ok {
				out = append(out, l)
				continue
			}
		} else {
			delete(versions, k)
		}
		out = append(out, p)
	}
	return append(out, rest...)
}

func selectedAfterPush(selected model.Post, pushed []model.Post, versions map[string]Version, seq uint64) *model.Post {
	if v, ok := versions[postKey(selected.ID)]; ok && v.Seq > seq {
		if v.Deleted {
			return nil
		}
		return &selected
	}
	for _, p := range pushed {
		if p.ID == selected.ID {
			return &p
		}
	}
	// Not in the pushed window (it may be older than the listened range).
	return &selected
}
