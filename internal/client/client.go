// Package client provides a Go client for the threadly API.
package client

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alphabot-ai/threadly/internal/model"
)

// Client is a threadly API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Token      string
	TokenExp   time.Time
}

// Credentials holds a user's keypair and display name.
type Credentials struct {
	DisplayName string
	PublicKey   string
	PrivateKey  ed25519.PrivateKey
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("threadly: %d %s", e.Status, e.Message)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// GenerateCredentials creates a new ed25519 keypair.
func GenerateCredentials(displayName string) (*Credentials, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Credentials{
		DisplayName: displayName,
		PublicKey:   base64.StdEncoding.EncodeToString(pub),
		PrivateKey:  priv,
	}, nil
}

// CredentialsFromKey rebuilds credentials from an exported private key.
func CredentialsFromKey(displayName, privKeyB64 string) (*Credentials, error) {
	privBytes, err := base64.StdEncoding.DecodeString(privKeyB64)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(privBytes) != ed25519.PrivateKeySize {
		return nil, errors.New("private key has the wrong length")
	}
	priv := ed25519.PrivateKey(privBytes)
	return &Credentials{
		DisplayName: displayName,
		PublicKey:   base64.StdEncoding.EncodeToString(priv.Public().(ed25519.PublicKey)),
		PrivateKey:  priv,
	}, nil
}

// ExportKey returns the private key in the form CredentialsFromKey reads.
func (creds *Credentials) ExportKey() string {
	return base64.StdEncoding.EncodeToString(creds.PrivateKey)
}

func (creds *Credentials) Sign(message string) string {
	sig := ed25519.Sign(creds.PrivateKey, []byte(message))
	return base64.StdEncoding.EncodeToString(sig)
}

type proof struct {
	DisplayName string `json:"displayName,omitempty"`
	Alg         string `json:"alg"`
	PublicKey   string `json:"publicKey"`
	Challenge   string `json:"challenge"`
	Signature   string `json:"signature"`
}

type tokenResponse struct {
	Token     string     `json:"token"`
	ExpiresAt model.Time `json:"expiresAt"`
	User      model.User `json:"user"`
}

// Challenge requests a sign-in challenge for alg.
func (c *Client) Challenge(ctx context.Context, alg string) (model.Challenge, error) {
	var out model.Challenge
	err := c.do(ctx, http.MethodPost, "/api/auth/challenge", map[string]string{"alg": alg}, &out)
	return out, err
}

func (c *Client) signed(ctx context.Context, creds *Credentials) (proof, error) {
	ch, err := c.Challenge(ctx, "ed25519")
	if err != nil {
		return proof{}, fmt.Errorf("get challenge: %w", err)
	}
	return proof{
		Alg:       "ed25519",
		PublicKey: creds.PublicKey,
		Challenge: ch.Challenge,
		Signature: creds.Sign(ch.Challenge),
	}, nil
}

// Register creates an account for creds and keeps the issued token.
func (c *Client) Register(ctx context.Context, creds *Credentials) (model.User, error) {
	p, err := c.signed(ctx, creds)
	if err != nil {
		return model.User{}, err
	}
	p.DisplayName = creds.DisplayName
	var out tokenResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", p, &out); err != nil {
		if StatusOf(err) == http.StatusConflict {
			return model.User{}, fmt.Errorf("%w: %w", ErrAlreadyRegistered, err)
		}
		return model.User{}, err
	}
	c.keep(out)
	return out.User, nil
}

// Login signs in with an already registered key.
func (c *Client) Login(ctx context.Context, creds *Credentials) (model.User, error) {
	p, err := c.signed(ctx, creds)
	if err != nil {
		return model.User{}, err
	}
	var out tokenResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/verify", p, &out); err != nil {
		return model.User{}, err
	}
	c.keep(out)
	return out.User, nil
}

// RegisterOrLogin registers creds, falling back to login when the key or
// name already exists.
func (c *Client) RegisterOrLogin(ctx context.Context, creds *Credentials) (model.User, error) {
	u, err := c.Register(ctx, creds)
	if errors.Is(err, ErrAlreadyRegistered) {
		return c.Login(ctx, creds)
	}
	return u, err
}

func (c *Client) keep(t tokenResponse) {
	c.Token = t.Token
	c.TokenExp = t.ExpiresAt.Time
}

func (c *Client) IsAuthenticated() bool {
	return c.Token != "" && time.Now().Before(c.TokenExp)
}

func (c *Client) Me(ctx context.Context) (model.User, error) {
	var out struct {
		User model.User `json:"user"`
	}
	err := c.do(ctx, http.MethodGet, "/api/me", nil, &out)
	return out.User, err
}

func (c *Client) RevokeKey(ctx context.Context, keyID string) error {
	return c.do(ctx, http.MethodDelete, "/api/me/keys/"+url.PathEscape(keyID), nil, nil)
}

// Listing is a page of posts with the caller's votes on them.
type Listing struct {
	Posts     []model.Post     `json:"posts"`
	PostVotes []model.PostVote `json:"postVotes"`
}

// Feed returns the home feed: the caller's communities when signed in,
// the global top posts otherwise.
func (c *Client) Feed(ctx context.Context) (Listing, error) {
	var out Listing
	err := c.do(ctx, http.MethodGet, "/api/feed", nil, &out)
	return out, err
}

func (c *Client) CreateCommunity(ctx context.Context, name string, privacy model.PrivacyType) (model.Community, error) {
	var out model.Community
	err := c.do(ctx, http.MethodPost, "/api/communities", map[string]any{"name": name, "privacyType": privacy}, &out)
	return out, err
}

// Community returns a community and whether the caller is a member.
func (c *Client) Community(ctx context.Context, id string) (model.Community, bool, error) {
	var out struct {
		Community model.Community `json:"community"`
		IsMember  bool            `json:"isMember"`
	}
	err := c.do(ctx, http.MethodGet, "/api/communities/"+url.PathEscape(id), nil, &out)
	return out.Community, out.IsMember, err
}

func (c *Client) CommunityPosts(ctx context.Context, id string) (Listing, error) {
	var out Listing
	err := c.do(ctx, http.MethodGet, "/api/communities/"+url.PathEscape(id)+"/posts", nil, &out)
	return out, err
}

type membership struct {
	IsMember bool                     `json:"isMember"`
	Snippets []model.CommunitySnippet `json:"snippets"`
}

// Join joins a community and returns the caller's memberships.
func (c *Client) Join(ctx context.Context, id string) ([]model.CommunitySnippet, error) {
	var out membership
	err := c.do(ctx, http.MethodPost, "/api/communities/"+url.PathEscape(id)+"/join", nil, &out)
	return out.Snippets, err
}

func (c *Client) Leave(ctx context.Context, id string) ([]model.CommunitySnippet, error) {
	var out membership
	err := c.do(ctx, http.MethodPost, "/api/communities/"+url.PathEscape(id)+"/leave", nil, &out)
	return out.Snippets, err
}

func (c *Client) Snippets(ctx context.Context) ([]model.CommunitySnippet, error) {
	var out membership
	err := c.do(ctx, http.MethodGet, "/api/snippets", nil, &out)
	return out.Snippets, err
}

type NewPost struct {
	CommunityID string `json:"communityId"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	ImageURL    string `json:"imageURL,omitempty"`
}

func (c *Client) CreatePost(ctx context.Context, p NewPost) (model.Post, error) {
	var out model.Post
	err := c.do(ctx, http.MethodPost, "/api/posts", p, &out)
	return out, err
}

// Post returns a post and, when signed in, the caller's vote on it.
func (c *Client) Post(ctx context.Context, id string) (model.Post, *model.PostVote, error) {
	var out struct {
		Post model.Post      `json:"post"`
		Vote *model.PostVote `json:"vote"`
	}
	err := c.do(ctx, http.MethodGet, "/api/posts/"+url.PathEscape(id), nil, &out)
	return out.Post, out.Vote, err
}

func (c *Client) DeletePost(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/posts/"+url.PathEscape(id), nil, nil)
}

func (c *Client) Comments(ctx context.Context, postID string) ([]model.Comment, error) {
	var out struct {
		Comments []model.Comment `json:"comments"`
	}
	err := c.do(ctx, http.MethodGet, "/api/posts/"+url.PathEscape(postID)+"/comments", nil, &out)
	return out.Comments, err
}

func (c *Client) Comment(ctx context.Context, postID, text string) (model.Comment, error) {
	var out model.Comment
	err := c.do(ctx, http.MethodPost, "/api/posts/"+url.PathEscape(postID)+"/comments", map[string]string{"text": text}, &out)
	return out, err
}

func (c *Client) DeleteComment(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/comments/"+url.PathEscape(id), nil, nil)
}

type VoteResult struct {
	VoteValue  int `json:"voteValue"`
	Delta      int `json:"delta"`
	VoteStatus int `json:"voteStatus"`
}

// Vote casts value (1 or -1). Repeating a vote removes it.
func (c *Client) Vote(ctx context.Context, postID string, value int) (VoteResult, error) {
	var out VoteResult
	err := c.do(ctx, http.MethodPost, "/api/posts/"+url.PathEscape(postID)+"/vote", map[string]int{"value": value}, &out)
	return out, err
}

func (c *Client) Votes(ctx context.Context, postIDs []string) ([]model.PostVote, error) {
	var out Listing
	err := c.do(ctx, http.MethodGet, "/api/votes?postIds="+url.QueryEscape(strings.Join(postIDs, ",")), nil, &out)
	return out.PostVotes, err
}

// LiveUpdate is one frame of a live subscription.
type LiveUpdate struct {
	Type      string           `json:"type"`
	Posts     []model.Post     `json:"posts"`
	PostVotes []model.PostVote `json:"postVotes"`
}

// WatchCommunity streams a community's posts to fn until ctx ends or the
// connection drops.
func (c *Client) WatchCommunity(ctx context.Context, id string, fn func(LiveUpdate)) error {
	return c.watch(ctx, "/api/live/communities/"+url.PathEscape(id), fn)
}

// WatchVotes streams the caller's votes on postIDs to fn.
func (c *Client) WatchVotes(ctx context.Context, postIDs []string, fn func(LiveUpdate)) error {
	return c.watch(ctx, "/api/live/votes?postIds="+url.QueryEscape(strings.Join(postIDs, ",")), fn)
}

func (c *Client) watch(ctx context.Context, path string, fn func(LiveUpdate)) error {
	wsURL := "ws" + strings.TrimPrefix(c.BaseURL, "http") + path
	header := http.Header{}
	if c.Token != "" {
		header.Set("Authorization", "Bearer "+c.Token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return decodeError(resp)
		}
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	for {
		var u LiveUpdate
		if err := conn.ReadJSON(&u); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		fn(u)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

var ErrAlreadyRegistered = errors.New("already registered")
