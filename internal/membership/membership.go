// Package membership caches the signed-in user's community snippets and
// writes joins and leaves through to the document store.
package membership

import (
	"context"
	"errors"
	"fmt"

	"github.com/alphabot-ai/threadly/internal/docstore"
	"github.com/alphabot-ai/threadly/internal/logging"
	"github.com/alphabot-ai/threadly/internal/model"
	"github.com/alphabot-ai/threadly/internal/session"
	"github.com/alphabot-ai/threadly/internal/state"
)

type Service struct {
	db  docstore.Client
	log logging.Logger
}

func New(db docstore.Client, log logging.Logger) *Service {
	return &Service{db: db, log: log.With("component", "membership")}
}

// GetSnippets returns the session's memberships, fetching them from the
// store only on the first call.
func (s *Service) GetSnippets(ctx context.Context, sess *session.Session) ([]model.CommunitySnippet, error) {
	if !sess.SignedIn() {
		return nil, nil
	}
	if st := sess.Snapshot(); st.SnippetsFetched {
		return st.MySnippets, nil
	}
	snippets, err := s.fetch(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	sess.Apply(ctx, state.SetSnippets{Snippets: snippets})
	return snippets, nil
}

func (s *Service) fetch(ctx context.Context, uid string) ([]model.CommunitySnippet, error) {
	snaps, err := s.db.Query(ctx, docstore.Collection(model.SnippetsPath(uid)))
	if err != nil {
		s.log.Error(ctx, "get snippets failed", "uid", uid, "error", err)
		return nil, fmt.Errorf("get snippets: %w", err)
	}
	snippets := make([]model.CommunitySnippet, 0, len(snaps))
	for _, snap := range snaps {
		var sn model.CommunitySnippet
		if err := snap.DataTo(&sn); err != nil {
			s.log.Error(ctx, "get snippets failed", "uid", uid, "snippet", snap.ID, "error", err)
			return nil, fmt.Errorf("decode snippet %s: %w", snap.ID, err)
		}
		snippets = append(snippets, sn)
	}
	return snippets, nil
}

// resync replaces the cached snippets with the stored ones. It runs when
// a transaction found the store disagreeing with the cache.
func (s *Service) resync(ctx context.Context, sess *session.Session) {
	snippets, err := s.fetch(context.WithoutCancel(ctx), sess.UserID)
	if err != nil {
		return
	}
	sess.Dispatch(state.SetSnippets{Snippets: snippets})
}

// Join adds the user to c. Joining a community twice is a no-op. The
// stored snippet decides membership, so a stale cache cannot double count.
func (s *Service) Join(ctx context.Context, sess *session.Session, c model.Community) error {
	if err := sess.RequireUser(); err != nil {
		return err
	}
	key := "join:" + c.ID
	if err := sess.TryBegin(key); err != nil {
		return err
	}
	defer sess.End(key)

	if _, err := s.GetSnippets(ctx, sess); err != nil {
		return err
	}

	path := model.SnippetsPath(sess.UserID)
	snippet := model.CommunitySnippet{
		CommunityID: c.ID,
		IsModerator: c.CreatorID == sess.UserID,
		ImageURL:    c.ImageURL,
	}
	wrote := false
	_, err := s.db.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		// The community row lock orders joins and leaves across instances.
		if _, err := tx.Get(ctx, model.CommunitiesPath, c.ID); err != nil {
			return err
		}
		_, err := tx.Get(ctx, path, c.ID)
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, docstore.ErrNotFound):
			return err
		}
		tx.Set(path, c.ID, snippet)
		tx.Update(model.CommunitiesPath, c.ID, map[string]any{"numberOfMembers": docstore.Increment{N: 1}})
		wrote = true
		return nil
	})
	if err != nil {
		s.log.Error(ctx, "join community failed", "community", c.ID, "error", err)
		return fmt.Errorf("join %s: %w", c.ID, err)
	}

	// The write is committed; the cache follows it even if the caller left.
	if wrote {
		sess.Dispatch(state.JoinCommunity{Snippet: snippet})
	} else if !sess.Snapshot().IsMember(c.ID) {
		s.log.Debug(ctx, "membership cache stale, resyncing", "community", c.ID)
		s.resync(ctx, sess)
	}
	return nil
}

// Leave removes the user from communityID. Leaving a community the user
// is not in is a no-op.
func (s *Service) Leave(ctx context.Context, sess *session.Session, communityID string) error {
	if err := sess.RequireUser(); err != nil {
		return err
	}
	key := "join:" + communityID
	if err := sess.TryBegin(key); err != nil {
		return err
	}
	defer sess.End(key)

	if _, err := s.GetSnippets(ctx, sess); err != nil {
		return err
	}

	path := model.SnippetsPath(sess.UserID)
	wrote := false
	_, err := s.db.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if _, err := tx.Get(ctx, model.CommunitiesPath, communityID); err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return err
		}
		if _, err := tx.Get(ctx, path, communityID); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return nil
			}
			return err
		}
		tx.Delete(path, communityID)
		tx.Update(model.CommunitiesPath, communityID, map[string]any{"numberOfMembers": docstore.Increment{N: -1}})
		wrote = true
		return nil
	})
	if err != nil {
		s.log.Error(ctx, "leave community failed", "community", communityID, "error", err)
		return fmt.Errorf("leave %s: %w", communityID, err)
	}

	if wrote {
		sess.Dispatch(state.LeaveCommunity{CommunityID: communityID})
	} else if sess.Snapshot().IsMember(communityID) {
		s.log.Debug(ctx, "membership cache stale, resyncing", "community", communityID)
		s.resync(ctx, sess)
	}
	return nil
}
