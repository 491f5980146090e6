// Package interact performs the compound writes behind posting, voting
// and commenting. Each operation commits one batch and applies its effect
// to the session state only after the commit succeeds, and only while the
// caller's context is still live.
package interact

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alphabot-ai/threadly/internal/docstore"
	"github.com/alphabot-ai/threadly/internal/feed"
	"github.com/alphabot-ai/threadly/internal/logging"
	"github.com/alphabot-ai/threadly/internal/model"
	"github.com/alphabot-ai/threadly/internal/session"
	"github.com/alphabot-ai/threadly/internal/state"
)

var (
	ErrInvalidVote = errors.New("vote value must be 1 or -1")
	ErrForbidden   = errors.New("only the author may do that")
	ErrEmpty       = errors.New("text is required")
)

type Controller struct {
	db  docstore.Client
	log logging.Logger
}

func New(db docstore.Client, log logging.Logger) *Controller {
	return &Controller{db: db, log: log.With("component", "interact")}
}

type NewPost struct {
	CommunityID string `json:"communityId"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	ImageURL    string `json:"imageURL,omitempty"`
}

func (c *Controller) CreatePost(ctx context.Context, sess *session.Session, in NewPost) (model.Post, error) {
	if err := sess.RequireUser(); err != nil {
		return model.Post{}, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return model.Post{}, ErrEmpty
	}
	if _, err := c.db.Get(ctx, model.CommunitiesPath, in.CommunityID); err != nil {
		return model.Post{}, fmt.Errorf("community %s: %w", in.CommunityID, err)
	}

	post := model.Post{
		ID:                 docstore.NewID(),
		CommunityID:        in.CommunityID,
		CreatorID:          sess.UserID,
		CreatorDisplayName: sess.DisplayName,
		Title:              strings.TrimSpace(in.Title),
		Body:               in.Body,
		CreatedAt:          model.Now(),
		ImageURL:           in.ImageURL,
	}
	res, err := c.db.Set(ctx, model.PostsPath, post.ID, post)
	if err != nil {
		c.log.Error(ctx, "create post failed", "community", in.CommunityID, "error", err)
		return model.Post{}, fmt.Errorf("create post: %w", err)
	}
	sess.Apply(ctx, state.AddPost{Post: post, Seq: res.Seq})
	return post, nil
}

// GetPost fetches a post and makes it the session's selected post.
func (c *Controller) GetPost(ctx context.Context, sess *session.Session, postID string) (model.Post, error) {
	if err := sess.TryBegin(state.LoadingPost); err != nil {
		return model.Post{}, err
	}
	defer sess.End(state.LoadingPost)

	post, err := c.post(ctx, postID)
	if err != nil {
		return model.Post{}, err
	}
	sess.Apply(ctx, state.SelectPost{Post: &post})
	return post, nil
}

func (c *Controller) DeletePost(ctx context.Context, sess *session.Session, postID string) error {
	if err := sess.RequireUser(); err != nil {
		return err
	}
	post, err := c.post(ctx, postID)
	if err != nil {
		return err
	}
	if post.CreatorID != sess.UserID {
		return ErrForbidden
	}
	res, err := c.db.Batch().Delete(model.PostsPath, postID).Commit(ctx)
	if err != nil {
		c.log.Error(ctx, "delete post failed", "post", postID, "error", err)
		return fmt.Errorf("delete post: %w", err)
	}
	sess.Apply(ctx, state.RemovePost{PostID: postID, Seq: docstore.SeqOf(res, model.PostsPath, postID)})
	return nil
}

// LoadComments replaces the session's comments with postID's, newest
// first.
func (c *Controller) LoadComments(ctx context.Context, sess *session.Session, postID string) ([]model.Comment, error) {
	if err := sess.TryBegin(state.LoadingComments); err != nil {
		return nil, err
	}
	defer sess.End(state.LoadingComments)

	snaps, err := c.db.Query(ctx, docstore.Collection(model.CommentsPath).
		Where("postId", docstore.OpEqual, postID).
		OrderBy("createdAt", docstore.Desc))
	if err != nil {
		c.log.Error(ctx, "load comments failed", "post", postID, "error", err)
		return nil, fmt.Errorf("load comments: %w", err)
	}
	comments := make([]model.Comment, 0, len(snaps))
	for _, snap := range snaps {
		var cm model.Comment
		if err := snap.DataTo(&cm); err != nil {
			return nil, fmt.Errorf("decode comment %s: %w", snap.ID, err)
		}
		comments = append(comments, cm)
	}
	sess.Apply(ctx, state.SetComments{Comments: comments})
	return comments, nil
}

// CreateComment adds a comment to post and bumps its comment count in the
// same batch.
func (c *Controller) CreateComment(ctx context.Context, sess *session.Session, post model.Post, communityID, text string) (model.Comment, error) {
	if err := sess.RequireUser(); err != nil {
		return model.Comment{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Comment{}, ErrEmpty
	}
	key := "comment:" + post.ID
	if err := sess.TryBegin(key); err != nil {
		return model.Comment{}, err
	}
	defer sess.End(key)

	comment := model.Comment{
		ID:                 docstore.NewID(),
		PostID:             post.ID,
		PostTitle:          post.Title,
		CreatorID:          sess.UserID,
		CreatorDisplayName: sess.DisplayName,
		CommunityID:        communityID,
		Text:               text,
		CreatedAt:          model.Now(),
	}
	res, err := c.db.Batch().
		Set(model.CommentsPath, comment.ID, comment).
		Update(model.PostsPath, post.ID, map[string]any{"numberOfComments": docstore.Increment{N: 1}}).
		Commit(ctx)
	if err != nil {
		c.log.Error(ctx, "create comment failed", "post", post.ID, "error", err)
		return model.Comment{}, fmt.Errorf("create comment: %w", err)
	}
	if !sess.Apply(ctx, state.AddComment{Comment: comment, PostSeq: docstore.SeqOf(res, model.PostsPath, post.ID)}) {
		c.log.Debug(ctx, "caller gone, comment not applied locally", "post", post.ID)
	}
	return comment, nil
}

func (c *Controller) DeleteComment(ctx context.Context, sess *session.Session, commentID string) error {
	if err := sess.RequireUser(); err != nil {
		return err
	}
	snap, err := c.db.Get(ctx, model.CommentsPath, commentID)
	if err != nil {
		return fmt.Errorf("comment %s: %w", commentID, err)
	}
	var cm model.Comment
	if err := snap.DataTo(&cm); err != nil {
		return err
	}
	if cm.CreatorID != sess.UserID {
		return ErrForbidden
	}
	res, err := c.db.Batch().
		Delete(model.CommentsPath, commentID).
		Update(model.PostsPath, cm.PostID, map[string]any{"numberOfComments": docstore.Increment{N: -1}}).
		Commit(ctx)
	if err != nil {
		c.log.Error(ctx, "delete comment failed", "comment", commentID, "error", err)
		return fmt.Errorf("delete comment: %w", err)
	}
	sess.Apply(ctx, state.RemoveComment{CommentID: commentID, PostID: cm.PostID, PostSeq: docstore.SeqOf(res, model.PostsPath, cm.PostID)})
	return nil
}

type VoteResult struct {
	// VoteValue is the user's vote after the change; 0 when removed.
	VoteValue int `json:"voteValue"`
	// Delta was added to the post's score.
	Delta int `json:"delta"`
}

// Vote casts value on post. Repeating the current vote removes it;
// voting the other way flips it.
func (c *Controller) Vote(ctx context.Context, sess *session.Session, post model.Post, value int) (VoteResult, error) {
	if err := sess.RequireUser(); err != nil {
		return VoteResult{}, err
	}
	if value != 1 && value != -1 {
		return VoteResult{}, ErrInvalidVote
	}
	key := "vote:" + post.ID
	if err := sess.TryBegin(key); err != nil {
		return VoteResult{}, err
	}
	defer sess.End(key)

	votes := model.VotesPath(sess.UserID)
	var (
		res  VoteResult
		vote *model.PostVote
	)
	results, err := c.db.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		// Locking the post first orders concurrent votes on it, so the
		// vote read below sees any vote committed before ours.
		if _, err := tx.Get(ctx, model.PostsPath, post.ID); err != nil {
			return fmt.Errorf("post %s: %w", post.ID, err)
		}
		existing, err := currentVote(ctx, tx, votes, post.ID)
		if err != nil {
			return err
		}
		vote = nil
		switch existing {
		case 0:
			vote = &model.PostVote{ID: post.ID, PostID: post.ID, CommunityID: post.CommunityID, VoteValue: value}
			tx.Set(votes, post.ID, vote)
			res = VoteResult{VoteValue: value, Delta: value}
		case value:
			tx.Delete(votes, post.ID)
			res = VoteResult{VoteValue: 0, Delta: -value}
		default:
			vote = &model.PostVote{ID: post.ID, PostID: post.ID, CommunityID: post.CommunityID, VoteValue: value}
			tx.Set(votes, post.ID, vote)
			res = VoteResult{VoteValue: value, Delta: 2 * value}
		}
		tx.Update(model.PostsPath, post.ID, map[string]any{"voteStatus": docstore.Increment{N: res.Delta}})
		return nil
	})
	if err != nil {
		c.log.Error(ctx, "vote failed", "post", post.ID, "error", err)
		return VoteResult{}, fmt.Errorf("vote: %w", err)
	}
	applied := sess.Apply(ctx, state.ApplyVote{
		PostID:  post.ID,
		Delta:   res.Delta,
		Vote:    vote,
		VoteSeq: docstore.SeqOf(results, votes, post.ID),
		PostSeq: docstore.SeqOf(results, model.PostsPath, post.ID),
	})
	if !applied {
		c.log.Debug(ctx, "caller gone, vote not applied locally", "post", post.ID)
	}
	return res, nil
}

func currentVote(ctx context.Context, tx docstore.Tx, votes, postID string) (int, error) {
	snap, err := tx.Get(ctx, votes, postID)
	if errors.Is(err, docstore.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read vote: %w", err)
	}
	var v model.PostVote
	if err := snap.DataTo(&v); err != nil {
		return 0, err
	}
	return v.VoteValue, nil
}

func (c *Controller) post(ctx context.Context, postID string) (model.Post, error) {
	snap, err := c.db.Get(ctx, model.PostsPath, postID)
	if err != nil {
		return model.Post{}, fmt.Errorf("post %s: %w", postID, err)
	}
	var p model.Post
	if err := snap.DataTo(&p); err != nil {
		return model.Post{}, err
	}
	return p, nil
}

// Post fetches a post without touching session state.
func (c *Controller) Post(ctx context.Context, postID string) (model.Post, error) {
	return c.post(ctx, postID)
}

// WatchPostVotes keeps the session's votes on postIDs in sync with the
// store until stop is called or ctx ends.
func (c *Controller) WatchPostVotes(ctx context.Context, sess *session.Session, postIDs []string) (stop func()) {
	if !sess.SignedIn() || len(postIDs) == 0 {
		return func() {}
	}
	var stops []func()
	for _, chunk := range feed.Chunks(postIDs, feed.InChunk) {
		stops = append(stops, c.db.Listen(ctx, feed.VotesQuery(sess.UserID, chunk), func(qs docstore.QuerySnapshot) {
			votes := make([]model.PostVote, 0, len(qs.Docs))
			for _, snap := range qs.Docs {
				var v model.PostVote
				if err := snap.DataTo(&v); err != nil {
					c.log.Warn(ctx, "skipping undecodable vote", "id", snap.ID, "error", err)
					continue
				}
				votes = append(votes, v)
			}
			sess.Dispatch(state.ReconcileVotes{PostIDs: chunk, Votes: votes, Seq: qs.Seq})
		}))
	}
	return func() {
		for _, s := range stops {
			s()
		}
	}
}

// WatchCommunityPosts keeps the session's posts of communityID in sync
// with the store until stop is called or ctx ends.
func (c *Controller) WatchCommunityPosts(ctx context.Context, sess *session.Session, communityID string) (stop func()) {
	return c.db.Listen(ctx, feed.CommunityQuery(communityID), func(qs docstore.QuerySnapshot) {
		posts, err := feed.DecodePosts(qs.Docs)
		if err != nil {
			c.log.Warn(ctx, "dropping undecodable posts push", "community", communityID, "error", err)
			return
		}
		sess.Dispatch(state.ReconcilePosts{CommunityID: communityID, Posts: posts, Seq: qs.Seq})
	})
}
