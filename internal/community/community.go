// Package community creates and looks up communities.
package community

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/alphabot-ai/threadly/internal/docstore"
	"github.com/alphabot-ai/threadly/internal/logging"
	"github.com/alphabot-ai/threadly/internal/model"
	"github.com/alphabot-ai/threadly/internal/session"
	"github.com/alphabot-ai/threadly/internal/state"
)

var (
	ErrCommunityTaken       = errors.New("community name is taken")
	ErrInvalidCommunityName = errors.New("community names are 3-21 letters, digits or underscores")
	ErrInvalidPrivacy       = errors.New("unknown privacy type")
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,21}$`)

func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

type Service struct {
	db  docstore.Client
	log logging.Logger
}

func New(db docstore.Client, log logging.Logger) *Service {
	return &Service{db: db, log: log.With("component", "community")}
}

// Create makes sess's user the creator and first member of a new
// community.
func (s *Service) Create(ctx context.Context, sess *session.Session, name string, privacy model.PrivacyType) (model.Community, error) {
	if err := sess.RequireUser(); err != nil {
		return model.Community{}, err
	}
	if !ValidName(name) {
		return model.Community{}, ErrInvalidCommunityName
	}
	switch privacy {
	case "":
		privacy = model.PrivacyPublic
	case model.PrivacyPublic, model.PrivacyRestricted, model.PrivacyPrivate:
	default:
		return model.Community{}, ErrInvalidPrivacy
	}

	c := model.Community{
		ID:              name,
		CreatorID:       sess.UserID,
		NumberOfMembers: 1,
		PrivacyType:     privacy,
		CreatedAt:       model.Now(),
	}
	snippet := model.CommunitySnippet{CommunityID: name, IsModerator: true}
	_, err := s.db.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		_, err := tx.Get(ctx, model.CommunitiesPath, name)
		switch {
		case err == nil:
			return ErrCommunityTaken
		case !errors.Is(err, docstore.ErrNotFound):
			return err
		}
		tx.Set(model.CommunitiesPath, name, c)
		tx.Set(model.SnippetsPath(sess.UserID), name, snippet)
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrCommunityTaken) {
			s.log.Error(ctx, "create community failed", "name", name, "error", err)
		}
		return model.Community{}, fmt.Errorf("create community %s: %w", name, err)
	}
	sess.Apply(ctx, state.JoinCommunity{Snippet: snippet}, state.VisitCommunity{Community: c})
	s.log.Info(ctx, "community created", "name", name, "creator", sess.UserID)
	return c, nil
}

// Get fetches a community. It returns docstore.ErrNotFound when there is
// none.
func (s *Service) Get(ctx context.Context, id string) (model.Community, error) {
	snap, err := s.db.Get(ctx, model.CommunitiesPath, id)
	if err != nil {
		return model.Community{}, err
	}
	var c model.Community
	if err := snap.DataTo(&c); err != nil {
		return model.Community{}, fmt.Errorf("decode community %s: %w", id, err)
	}
	return c, nil
}

// Visit returns a community, fetching it only on the session's first
// visit.
func (s *Service) Visit(ctx context.Context, sess *session.Session, id string) (model.Community, error) {
	if c, ok := sess.Snapshot().Visited[id]; ok {
		return c, nil
	}
	c, err := s.Get(ctx, id)
	if err != nil {
		return model.Community{}, err
	}
	sess.Apply(ctx, state.VisitCommunity{Community: c})
	return c, nil
}
