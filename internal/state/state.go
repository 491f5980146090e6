// Package state holds the per-user view state that mirrors parts of the
// document store: memberships, visited communities, the visible post
// list, the user's votes and the open post's comments.
//
// State only changes through Reduce. Every mutation is a typed Action so
// transitions can be replayed and tested without a store.
package state

import (
	"github.com/alphabot-ai/threadly/internal/model"
)

// Loading flag keys.
const (
	LoadingFeed     = "feed"
	LoadingPosts    = "posts"
	LoadingComments = "comments"
	LoadingPost     = "post"
)

type State struct {
	UserID string `json:"userId"`

	MySnippets      []model.CommunitySnippet   `json:"mySnippets"`
	SnippetsFetched bool                       `json:"snippetsFetched"`
	Visited         map[string]model.Community `json:"visitedCommunities"`

	Posts        []model.Post     `json:"posts"`
	SelectedPost *model.Post      `json:"selectedPost,omitempty"`
	PostVotes    []model.PostVote `json:"postVotes"`
	Comments     []model.Comment  `json:"comments"`

	Loading map[string]bool `json:"loading"`

	// Versions records the store sequence of the last local write per
	// entity key. Pushes older than a recorded version do not overwrite it.
	Versions map[string]Version `json:"-"`
}

type Version struct {
	Seq     uint64
	Deleted bool
}

func New(userID string) State {
	return State{
		UserID:   userID,
		Visited:  make(map[string]model.Community),
		Loading:  make(map[string]bool),
		Versions: make(map[string]Version),
	}
}

// Clone returns a copy sharing no slices or maps with s.
func (s State) Clone() State {
	out := s
	out.MySnippets = append([]model.CommunitySnippet(nil), s.MySnippets...)
	out.Posts = append([]model.Post(nil), s.Posts...)
	out.PostVotes = append([]model.PostVote(nil), s.PostVotes...)
	out.Comments = append([]model.Comment(nil), s.Comments...)
	if s.SelectedPost != nil {
		p := *s.SelectedPost
		out.SelectedPost = &p
	}
	out.Visited = make(map[string]model.Community, len(s.Visited))
	for k, v := range s.Visited {
		out.Visited[k] = v
	}
	out.Loading = make(map[string]bool, len(s.Loading))
	for k, v := range s.Loading {
		out.Loading[k] = v
	}
	out.Versions = make(map[string]Version, len(s.Versions))
	for k, v := range s.Versions {
		out.Versions[k] = v
	}
	return out
}

// IsMember reports whether the cached memberships include communityID.
func (s State) IsMember(communityID string) bool {
	for _, sn := range s.MySnippets {
		if sn.CommunityID == communityID {
			return true
		}
	}
	return false
}

// VoteFor returns the user's cached vote on postID.
func (s State) VoteFor(postID string) (model.PostVote, bool) {
	for _, v := range s.PostVotes {
		if v.PostID == postID {
			return v, true
		}
	}
	return model.PostVote{}, false
}

func (s State) Post(postID string) (model.Post, bool) {
	if s.SelectedPost != nil && s.SelectedPost.ID == postID {
		return *s.SelectedPost, true
	}
	for _, p := range s.Posts {
		if p.ID == postID {
			return p, true
		}
	}
	return model.Post{}, false
}

func postKey(id string) string { return "posts/" + id }
func voteKey(id string) string { return "postVotes/" + id }
