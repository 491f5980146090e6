// Package auth signs users in with key pairs. A client asks for a
// challenge, signs it with its private key and exchanges the signature
// for a bearer token. Users, keys and pending challenges live in the
// document store.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/alphabot-ai/threadly/internal/docstore"
	"github.com/alphabot-ai/threadly/internal/logging"
	"github.com/alphabot-ai/threadly/internal/model"
)

var (
	ErrInvalidChallenge = errors.New("unknown or used challenge")
	ErrChallengeExpired = errors.New("challenge expired")
	ErrAlgMismatch      = errors.New("challenge alg mismatch")
	ErrUnknownKey       = errors.New("key is not registered")
	ErrKeyRevoked       = errors.New("key revoked")
	ErrKeyRegistered    = errors.New("key already registered")
	ErrNameTaken        = errors.New("display name is taken")
	ErrInvalidName      = errors.New("display names are 3-32 letters, digits, dashes or underscores")
	ErrInvalidToken     = errors.New("invalid token")
)

var displayNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,32}$`)

type Service struct {
	db           docstore.Client
	secret       []byte
	tokenTTL     time.Duration
	challengeTTL time.Duration
	log          logging.Logger
	now          func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l logging.Logger) Option {
	return func(s *Service) { s.log = l }
}

func NewService(db docstore.Client, secret []byte, tokenTTL, challengeTTL time.Duration, opts ...Option) *Service {
	s := &Service{
		db:           db,
		secret:       secret,
		tokenTTL:     tokenTTL,
		challengeTTL: challengeTTL,
		log:          logging.Nop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "auth")
	return s
}

// Claims are carried by issued tokens.
type Claims struct {
	jwt.RegisteredClaims
	Name  string `json:"name"`
	KeyID string `json:"kid"`
}

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID      string
	DisplayName string
	KeyID       string
}

// Proof is a signed challenge.
type Proof struct {
	Alg       string `json:"alg"`
	PublicKey string `json:"publicKey"`
	Challenge string `json:"challenge"`
	Signature string `json:"signature"`
}

func (s *Service) CreateChallenge(ctx context.Context, alg string) (model.Challenge, error) {
	alg = strings.ToLower(alg)
	if !SupportedAlg(alg) {
		return model.Challenge{}, fmt.Errorf("%w: %s", ErrUnsupportedAlg, alg)
	}
	challenge, err := randomToken(32)
	if err != nil {
		return model.Challenge{}, err
	}
	c := model.Challenge{
		Challenge: challenge,
		Alg:       alg,
		ExpiresAt: model.TimeOf(s.now().Add(s.challengeTTL)),
	}
	if _, err := s.db.Set(ctx, model.ChallengesPath, challenge, c); err != nil {
		return model.Challenge{}, err
	}
	return c, nil
}

// Register creates a user owning the proof's key and signs it in.
func (s *Service) Register(ctx context.Context, displayName string, p Proof) (model.Token, model.User, error) {
	if !displayNamePattern.MatchString(displayName) {
		return model.Token{}, model.User{}, ErrInvalidName
	}
	if err := s.verify(ctx, p); err != nil {
		return model.Token{}, model.User{}, err
	}

	now := model.TimeOf(s.now())
	user := model.User{UID: docstore.NewID(), DisplayName: displayName, CreatedAt: now}
	key := model.AccountKey{
		ID:        KeyID(p.Alg, p.PublicKey),
		UID:       user.UID,
		Alg:       strings.ToLower(p.Alg),
		PublicKey: p.PublicKey,
		CreatedAt: now,
	}
	_, err := s.db.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if _, err := tx.Get(ctx, model.AccountKeysPath, key.ID); err == nil {
			return ErrKeyRegistered
		} else if !errors.Is(err, docstore.ErrNotFound) {
			return err
		}
		if _, err := tx.Get(ctx, model.UsernamesPath, strings.ToLower(displayName)); err == nil {
			return ErrNameTaken
		} else if !errors.Is(err, docstore.ErrNotFound) {
			return err
		}
		tx.Set(model.UsersPath, user.UID, user)
		tx.Set(model.UsernamesPath, strings.ToLower(displayName), map[string]any{"uid": user.UID})
		tx.Set(model.AccountKeysPath, key.ID, key)
		return nil
	})
	if err != nil {
		return model.Token{}, model.User{}, err
	}
	s.log.Info(ctx, "user registered", "uid", user.UID, "alg", key.Alg)

	token, err := s.issue(user, key.ID)
	if err != nil {
		return model.Token{}, model.User{}, err
	}
	return token, user, nil
}

// Login signs in the owner of the proof's key.
func (s *Service) Login(ctx context.Context, p Proof) (model.Token, model.User, error) {
	if err := s.verify(ctx, p); err != nil {
		return model.Token{}, model.User{}, err
	}
	snap, err := s.db.Get(ctx, model.AccountKeysPath, KeyID(p.Alg, p.PublicKey))
	if errors.Is(err, docstore.ErrNotFound) {
		return model.Token{}, model.User{}, ErrUnknownKey
	}
	if err != nil {
		return model.Token{}, model.User{}, err
	}
	var key model.AccountKey
	if err := snap.DataTo(&key); err != nil {
		return model.Token{}, model.User{}, err
	}
	if key.RevokedAt != nil {
		return model.Token{}, model.User{}, ErrKeyRevoked
	}
	user, err := s.User(ctx, key.UID)
	if err != nil {
		return model.Token{}, model.User{}, err
	}
	token, err := s.issue(user, key.ID)
	if err != nil {
		return model.Token{}, model.User{}, err
	}
	return token, user, nil
}

// RevokeKey stops keyID from signing in. Tokens already issued stay valid
// until they expire.
func (s *Service) RevokeKey(ctx context.Context, uid, keyID string) error {
	snap, err := s.db.Get(ctx, model.AccountKeysPath, keyID)
	if err != nil {
		return err
	}
	var key model.AccountKey
	if err := snap.DataTo(&key); err != nil {
		return err
	}
	if key.UID != uid {
		return docstore.ErrNotFound
	}
	_, err = s.db.Update(ctx, model.AccountKeysPath, keyID, map[string]any{"revokedAt": docstore.ServerTimestamp})
	return err
}

func (s *Service) User(ctx context.Context, uid string) (model.User, error) {
	snap, err := s.db.Get(ctx, model.UsersPath, uid)
	if err != nil {
		return model.User{}, err
	}
	var u model.User
	if err := snap.DataTo(&u); err != nil {
		return model.User{}, err
	}
	return u, nil
}

// Authenticate validates a bearer token.
func (s *Service) Authenticate(_ context.Context, bearer string) (Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(bearer, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: claims.Subject, DisplayName: claims.Name, KeyID: claims.KeyID}, nil
}

// PurgeChallenges deletes challenges that expired before now and returns
// how many were removed.
func (s *Service) PurgeChallenges(ctx context.Context) (int, error) {
	snaps, err := s.db.Query(ctx, docstore.Collection(model.ChallengesPath).
		Where("expiresAt", docstore.OpLess, s.now().UnixMilli()))
	if err != nil {
		return 0, err
	}
	if len(snaps) == 0 {
		return 0, nil
	}
	b := s.db.Batch()
	for _, snap := range snaps {
		b.Delete(model.ChallengesPath, snap.ID)
	}
	if _, err := b.Commit(ctx); err != nil {
		return 0, err
	}
	return len(snaps), nil
}

// verify consumes the proof's challenge and checks its signature.
func (s *Service) verify(ctx context.Context, p Proof) error {
	var c model.Challenge
	_, err := s.db.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		snap, err := tx.Get(ctx, model.ChallengesPath, p.Challenge)
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrInvalidChallenge
		}
		if err != nil {
			return err
		}
		if err := snap.DataTo(&c); err != nil {
			return err
		}
		tx.Delete(model.ChallengesPath, p.Challenge)
		return nil
	})
	if err != nil {
		return err
	}
	if s.now().After(c.ExpiresAt.Time) {
		return ErrChallengeExpired
	}
	if !strings.EqualFold(c.Alg, p.Alg) {
		return ErrAlgMismatch
	}
	return VerifySignature(p.Alg, p.PublicKey, p.Challenge, p.Signature)
}

func (s *Service) issue(u model.User, keyID string) (model.Token, error) {
	now := s.now()
	exp := now.Add(s.tokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Name:  u.DisplayName,
		KeyID: keyID,
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return model.Token{}, err
	}
	return model.Token{Token: signed, ExpiresAt: model.TimeOf(exp)}, nil
}

// KeyID is the document id of a public key.
func KeyID(alg, publicKey string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(alg) + ":" + strings.TrimSpace(publicKey)))
	return hex.EncodeToString(sum[:16])
}

func randomToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
