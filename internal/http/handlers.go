package httpapp

import (
	"errors"
	"net/http"
	"strings"

	"github.com/alphabot-ai/threadly/internal/auth"
	"github.com/alphabot-ai/threadly/internal/interact"
	"github.com/alphabot-ai/threadly/internal/model"
	"github.com/alphabot-ai/threadly/internal/rate"
	"github.com/alphabot-ai/threadly/internal/state"
)

type tokenResponse struct {
	Token     string     `json:"token"`
	ExpiresAt model.Time `json:"expiresAt"`
	User      model.User `json:"user"`
}

// postsResponse is the visible slice of a session after a feed or
// community load.
type postsResponse struct {
	Posts     []model.Post     `json:"posts"`
	PostVotes []model.PostVote `json:"postVotes"`
}

func postsOf(st state.State) postsResponse {
	out := postsResponse{Posts: st.Posts, PostVotes: st.PostVotes}
	if out.Posts == nil {
		out.Posts = []model.Post{}
	}
	if out.PostVotes == nil {
		out.PostVotes = []model.PostVote{}
	}
	return out
}

func (s *Server) handleAuthChallenge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Alg string `json:"alg"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Alg) == "" {
		writeError(w, http.StatusBadRequest, errors.New("alg required"))
		return
	}
	challenge, err := s.auth.CreateChallenge(r.Context(), strings.TrimSpace(req.Alg))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, challenge)
}

func validProof(p auth.Proof) bool {
	return p.Alg != "" && p.PublicKey != "" && p.Challenge != "" && p.Signature != ""
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName string `json:"displayName"`
		auth.Proof
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.DisplayName == "" || !validProof(req.Proof) {
		writeError(w, http.StatusBadRequest, errors.New("missing fields"))
		return
	}
	token, user, err := s.auth.Register(r.Context(), strings.TrimSpace(req.DisplayName), req.Proof)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tokenResponse{Token: token.Token, ExpiresAt: token.ExpiresAt, User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.Proof
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !validProof(req) {
		writeError(w, http.StatusBadRequest, errors.New("missing fields"))
		return
	}
	token, user, err := s.auth.Login(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token.Token, ExpiresAt: token.ExpiresAt, User: user})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	_, id, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	user, err := s.auth.User(r.Context(), id.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user, "keyId": id.KeyID})
}

func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request, keyID string) {
	_, id, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	if err := s.auth.RevokeKey(r.Context(), id.UserID, keyID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	sess := s.optionalAuth(r)
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// handleFeed godoc
//
//	@Summary		Get the home feed
//	@Description	Posts from joined communities, or the global top posts when there are none
//	@Tags			Posts
//	@Produce		json
//	@Success		200	{object}	postsResponse
//	@Router			/api/feed [get]
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	sess := s.optionalAuth(r)
	if err := s.feed.LoadHome(r.Context(), sess); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, postsOf(sess.Snapshot()))
}

func (s *Server) handleSnippets(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	snippets, err := s.members.GetSnippets(r.Context(), sess)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if snippets == nil {
		snippets = []model.CommunitySnippet{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"snippets": snippets})
}

// handleCreateCommunity godoc
//
//	@Summary		Create a community
//	@Tags			Communities
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Success		201	{object}	model.Community
//	@Failure		409	{object}	map[string]string	"Name taken"
//	@Router			/api/communities [post]
func (s *Server) handleCreateCommunity(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	if !s.allowRateLimit(w, r, rate.ActionJoin, sess) {
		return
	}
	var req struct {
		Name        string            `json:"name"`
		PrivacyType model.PrivacyType `json:"privacyType"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	c, err := s.communities.Create(r.Context(), sess, strings.TrimSpace(req.Name), req.PrivacyType)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// handleGetCommunity godoc
//
//	@Summary		Get a community
//	@Tags			Communities
//	@Produce		json
//	@Param			id	path		string	true	"Community name"
//	@Success		200	{object}	map[string]interface{}	"Community and membership"
//	@Failure		404	{object}	map[string]string		"Community not found"
//	@Router			/api/communities/{id} [get]
func (s *Server) handleGetCommunity(w http.ResponseWriter, r *http.Request, id string) {
	sess := s.optionalAuth(r)
	c, err := s.communities.Visit(r.Context(), sess, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := s.members.GetSnippets(r.Context(), sess); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"community": c,
		"isMember":  sess.Snapshot().IsMember(id),
	})
}

func (s *Server) handleCommunityPosts(w http.ResponseWriter, r *http.Request, id string) {
	sess := s.optionalAuth(r)
	if err := s.feed.LoadCommunity(r.Context(), sess, id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, postsOf(sess.Snapshot()))
}

// handleJoin godoc
//
//	@Summary		Join a community
//	@Description	Joining a community twice is a no-op
//	@Tags			Communities
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path		string	true	"Community name"
//	@Success		200	{object}	map[string]interface{}
//	@Router			/api/communities/{id}/join [post]
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request, id string) {
	sess, _, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	if !s.allowRateLimit(w, r, rate.ActionJoin, sess) {
		return
	}
	c, err := s.communities.Visit(r.Context(), sess, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.members.Join(r.Context(), sess, c); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"isMember": true, "snippets": sess.Snapshot().MySnippets})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request, id string) {
	sess, _, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	if !s.allowRateLimit(w, r, rate.ActionJoin, sess) {
		return
	}
	if err := s.members.Leave(r.Context(), sess, id); err != nil {
		s.fail(w, r, err)
		return
	}
	snippets := sess.Snapshot().MySnippets
	if snippets == nil {
		snippets = []model.CommunitySnippet{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"isMember": false, "snippets": snippets})
}

// handleCreatePost godoc
//
//	@Summary		Create a post
//	@Tags			Posts
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		interact.NewPost	true	"Post"
//	@Success		201		{object}	model.Post
//	@Failure		429		{object}	map[string]string	"Rate limited"
//	@Router			/api/posts [post]
func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	if !s.allowRateLimit(w, r, rate.ActionPost, sess) {
		return
	}
	var req interact.NewPost
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	post, err := s.posts.CreatePost(r.Context(), sess, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

// handleGetPost godoc
//
//	@Summary		Get a post
//	@Description	Signed-in callers also get their vote on the post
//	@Tags			Posts
//	@Produce		json
//	@Param			id	path		string	true	"Post ID"
//	@Success		200	{object}	map[string]interface{}	"Post and vote"
//	@Failure		404	{object}	map[string]string		"Post not found"
//	@Router			/api/posts/{id} [get]
func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request, id string) {
	sess := s.optionalAuth(r)
	post, err := s.posts.GetPost(r.Context(), sess, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := map[string]any{"post": post}
	if sess.SignedIn() {
		votes, err := s.feed.MergeVotes(r.Context(), sess, []string{id})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if len(votes) > 0 {
			resp["vote"] = votes[0]
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request, id string) {
	sess, _, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	if err := s.posts.DeletePost(r.Context(), sess, id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handlePostComments(w http.ResponseWriter, r *http.Request, postID string) {
	sess := s.optionalAuth(r)
	comments, err := s.posts.LoadComments(r.Context(), sess, postID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": comments})
}

func (s *Server) handleCreateComment(w http.ResponseWriter, r *http.Request, postID string) {
	sess, _, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	if !s.allowRateLimit(w, r, rate.ActionComment, sess) {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	post, err := s.posts.Post(r.Context(), postID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	comment, err := s.posts.CreateComment(r.Context(), sess, post, post.CommunityID, req.Text)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

func (s *Server) handleDeleteComment(w http.ResponseWriter, r *http.Request, id string) {
	sess, _, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	if err := s.posts.DeleteComment(r.Context(), sess, id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleVote godoc
//
//	@Summary		Vote on a post
//	@Description	Repeating your current vote removes it; voting the other way flips it
//	@Tags			Votes
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path		string	true	"Post ID"
//	@Success		200	{object}	map[string]interface{}	"voteValue, delta and voteStatus"
//	@Failure		400	{object}	map[string]string		"Value must be 1 or -1"
//	@Router			/api/posts/{id}/vote [post]
func (s *Server) handleVote(w http.ResponseWriter, r *http.Request, postID string) {
	sess, _, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	if !s.allowRateLimit(w, r, rate.ActionVote, sess) {
		return
	}
	var req struct {
		Value int `json:"value"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	post, err := s.posts.Post(r.Context(), postID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.posts.Vote(r.Context(), sess, post, req.Value)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"voteValue":  res.VoteValue,
		"delta":      res.Delta,
		"voteStatus": post.VoteStatus + res.Delta,
	})
}

// handleVotes godoc
//
//	@Summary		Get your votes on posts
//	@Tags			Votes
//	@Produce		json
//	@Security		BearerAuth
//	@Param			postIds	query		string	true	"Comma separated post IDs"
//	@Success		200		{object}	map[string]interface{}
//	@Router			/api/votes [get]
func (s *Server) handleVotes(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	ids := splitIDs(r.URL.Query().Get("postIds"))
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("postIds required"))
		return
	}
	votes, err := s.feed.MergeVotes(r.Context(), sess, ids)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if votes == nil {
		votes = []model.PostVote{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"postVotes": votes})
}
