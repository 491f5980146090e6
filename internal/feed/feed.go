// Package feed assembles the home feed and community post lists.
package feed

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/alphabot-ai/threadly/internal/docstore"
	"github.com/alphabot-ai/threadly/internal/logging"
	"github.com/alphabot-ai/threadly/internal/model"
	"github.com/alphabot-ai/threadly/internal/session"
	"github.com/alphabot-ai/threadly/internal/state"
)

const (
	// MaxCommunities is how many memberships contribute to the home feed.
	// Later memberships are not shown and there is no paging.
	MaxCommunities    = 3
	PostsPerCommunity = 2
	GlobalLimit       = 20

	// InChunk bounds the values of one "in" filter.
	InChunk = 10
)

// SnippetSource supplies a session's memberships.
type SnippetSource interface {
	GetSnippets(ctx context.Context, sess *session.Session) ([]model.CommunitySnippet, error)
}

type Assembler struct {
	db       docstore.Client
	snippets SnippetSource
	log      logging.Logger
}

func New(db docstore.Client, snippets SnippetSource, log logging.Logger) *Assembler {
	return &Assembler{db: db, snippets: snippets, log: log.With("component", "feed")}
}

// Assemble builds the home feed. A signed-in user with memberships gets
// the newest PostsPerCommunity posts of each of their first
// MaxCommunities communities, in membership order; everyone else gets the
// GlobalLimit highest scored posts. Duplicates are not removed.
func (a *Assembler) Assemble(ctx context.Context, userID string, snippets []model.CommunitySnippet) ([]model.Post, error) {
	if userID == "" || len(snippets) == 0 {
		return a.queryPosts(ctx, docstore.Collection(model.PostsPath).
			OrderBy("voteStatus", docstore.Desc).
			Limit(GlobalLimit))
	}

	if len(snippets) > MaxCommunities {
		snippets = snippets[:MaxCommunities]
	}
	results := make([][]model.Post, len(snippets))
	g, gctx := errgroup.WithContext(ctx)
	for i, sn := range snippets {
		g.Go(func() error {
			posts, err := a.queryPosts(gctx, CommunityQuery(sn.CommunityID).Limit(PostsPerCommunity))
			if err != nil {
				return fmt.Errorf("community %s: %w", sn.CommunityID, err)
			}
			results[i] = posts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var feed []model.Post
	for _, posts := range results {
		feed = append(feed, posts...)
	}
	return feed, nil
}

// LoadHome assembles the session's home feed into its post list, then
// loads the user's votes on those posts.
func (a *Assembler) LoadHome(ctx context.Context, sess *session.Session) error {
	if err := sess.TryBegin(state.LoadingFeed); err != nil {
		return err
	}
	defer sess.End(state.LoadingFeed)

	snippets, err := a.snippets.GetSnippets(ctx, sess)
	if err != nil {
		a.log.Error(ctx, "home feed failed", "stage", "snippets", "error", err)
		return err
	}
	posts, err := a.Assemble(ctx, sess.UserID, snippets)
	if err != nil {
		a.log.Error(ctx, "home feed failed", "uid", sess.UserID, "error", err)
		return fmt.Errorf("assemble feed: %w", err)
	}
	if !sess.Apply(ctx, state.SetPosts{Posts: posts}) {
		return ctx.Err()
	}
	a.log.Debug(ctx, "home feed loaded", "uid", sess.UserID, "posts", len(posts))
	return a.LoadVotes(ctx, sess, postIDs(posts))
}

// CommunityPosts returns communityID's posts, newest first.
func (a *Assembler) CommunityPosts(ctx context.Context, communityID string) ([]model.Post, error) {
	return a.queryPosts(ctx, CommunityQuery(communityID))
}

// LoadCommunity replaces the session's post list with communityID's posts.
func (a *Assembler) LoadCommunity(ctx context.Context, sess *session.Session, communityID string) error {
	if err := sess.TryBegin(state.LoadingPosts); err != nil {
		return err
	}
	defer sess.End(state.LoadingPosts)

	posts, err := a.CommunityPosts(ctx, communityID)
	if err != nil {
		a.log.Error(ctx, "community posts failed", "community", communityID, "error", err)
		return fmt.Errorf("community posts: %w", err)
	}
	if !sess.Apply(ctx, state.SetPosts{Posts: posts}) {
		return ctx.Err()
	}
	return a.LoadVotes(ctx, sess, postIDs(posts))
}

// LoadVotes replaces the session's votes with the user's votes on postIDs.
func (a *Assembler) LoadVotes(ctx context.Context, sess *session.Session, postIDs []string) error {
	if !sess.SignedIn() {
		return nil
	}
	votes, err := a.Votes(ctx, sess.UserID, postIDs)
	if err != nil {
		a.log.Error(ctx, "load votes failed", "uid", sess.UserID, "error", err)
		return err
	}
	sess.Apply(ctx, state.SetPostVotes{Votes: votes})
	return nil
}

// MergeVotes refreshes the session's votes on postIDs and leaves its
// other votes alone. It returns the fetched votes.
func (a *Assembler) MergeVotes(ctx context.Context, sess *session.Session, postIDs []string) ([]model.PostVote, error) {
	if !sess.SignedIn() {
		return nil, nil
	}
	votes, err := a.Votes(ctx, sess.UserID, postIDs)
	if err != nil {
		a.log.Error(ctx, "merge votes failed", "uid", sess.UserID, "error", err)
		return nil, err
	}
	sess.Apply(ctx, state.MergePostVotes{PostIDs: postIDs, Votes: votes})
	return votes, nil
}

// Votes fetches uid's votes on postIDs.
func (a *Assembler) Votes(ctx context.Context, uid string, postIDs []string) ([]model.PostVote, error) {
	var votes []model.PostVote
	for _, chunk := range Chunks(postIDs, InChunk) {
		snaps, err := a.db.Query(ctx, VotesQuery(uid, chunk))
		if err != nil {
			return nil, fmt.Errorf("query votes: %w", err)
		}
		for _, snap := range snaps {
			var v model.PostVote
			if err := snap.DataTo(&v); err != nil {
				return nil, fmt.Errorf("decode vote %s: %w", snap.ID, err)
			}
			votes = append(votes, v)
		}
	}
	return votes, nil
}

// VotesQuery selects uid's votes on postIDs.
func VotesQuery(uid string, postIDs []string) docstore.Query {
	return docstore.Collection(model.VotesPath(uid)).Where("postId", docstore.OpIn, docstore.Strings(postIDs))
}

// Chunks splits ids into runs of at most n.
func Chunks(ids []string, n int) [][]string {
	var out [][]string
	for len(ids) > n {
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

// CommunityQuery selects communityID's posts, newest first.
func CommunityQuery(communityID string) docstore.Query {
	return docstore.Collection(model.PostsPath).
		Where("communityId", docstore.OpEqual, communityID).
		OrderBy("createdAt", docstore.Desc)
}

func (a *Assembler) queryPosts(ctx context.Context, q docstore.Query) ([]model.Post, error) {
	snaps, err := a.db.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return DecodePosts(snaps)
}

// DecodePosts decodes post snapshots in order.
func DecodePosts(snaps []docstore.Snapshot) ([]model.Post, error) {
	posts := make([]model.Post, 0, len(snaps))
	for _, snap := range snaps {
		var p model.Post
		if err := snap.DataTo(&p); err != nil {
			return nil, fmt.Errorf("decode post %s: %w", snap.ID, err)
		}
		posts = append(posts, p)
	}
	return posts, nil
}

func postIDs(posts []model.Post) []string {
	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	return ids
}
