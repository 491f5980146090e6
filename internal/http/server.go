package httpapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"

	_ "github.com/alphabot-ai/threadly/docs" // swagger docs
	"github.com/alphabot-ai/threadly/internal/auth"
	"github.com/alphabot-ai/threadly/internal/community"
	"github.com/alphabot-ai/threadly/internal/config"
	"github.com/alphabot-ai/threadly/internal/docstore"
	"github.com/alphabot-ai/threadly/internal/feed"
	"github.com/alphabot-ai/threadly/internal/interact"
	"github.com/alphabot-ai/threadly/internal/logging"
	"github.com/alphabot-ai/threadly/internal/membership"
	"github.com/alphabot-ai/threadly/internal/rate"
	"github.com/alphabot-ai/threadly/internal/session"
	"github.com/alphabot-ai/threadly/internal/state"
)

const requestIDHeader = "X-Request-Id"

type Server struct {
	auth        *auth.Service
	sessions    *session.Registry
	members     *membership.Service
	feed        *feed.Assembler
	posts       *interact.Controller
	communities *community.Service
	limiter     rate.Limiter
	limits      rate.Policy
	log         logging.Logger
	upgrader    websocket.Upgrader
}

func NewServer(db docstore.Client, authSvc *auth.Service, limiter rate.Limiter, cfg config.Config, log logging.Logger) *Server {
	members := membership.New(db, log)
	rl := cfg.RateLimits
	return &Server{
		auth:        authSvc,
		sessions:    session.NewRegistry(),
		members:     members,
		feed:        feed.New(db, members, log),
		posts:       interact.New(db, log),
		communities: community.New(db, log),
		limiter:     limiter,
		limits:      rate.PerMinute(rl.PostPerMinute, rl.CommentPerMinute, rl.VotePerMinute, rl.JoinPerMinute),
		log:         log.With("component", "http"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.Header.Get(requestIDHeader))
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set(requestIDHeader, id)
	r = r.WithContext(logging.WithRequestID(r.Context(), id))

	start := time.Now()
	if strings.HasPrefix(r.URL.Path, "/api/") {
		s.handleAPI(w, r)
	} else if r.URL.Path == "/healthz" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	} else if strings.HasPrefix(r.URL.Path, "/swagger/") {
		httpSwagger.WrapHandler.ServeHTTP(w, r)
	} else {
		notFound(w)
	}
	s.log.Debug(r.Context(), "request", "method", r.Method, "path", r.URL.Path, "took", time.Since(start))
}

func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api")
	segments := splitPath(path)

	switch {
	case len(segments) == 2 && segments[0] == "auth" && segments[1] == "challenge":
		if r.Method == http.MethodPost {
			s.handleAuthChallenge(w, r)
			return
		}
	case len(segments) == 2 && segments[0] == "auth" && segments[1] == "register":
		if r.Method == http.MethodPost {
			s.handleRegister(w, r)
			return
		}
	case len(segments) == 2 && segments[0] == "auth" && segments[1] == "verify":
		if r.Method == http.MethodPost {
			s.handleLogin(w, r)
			return
		}
	case len(segments) == 1 && segments[0] == "me":
		if r.Method == http.MethodGet {
			s.handleMe(w, r)
			return
		}
	case len(segments) == 3 && segments[0] == "me" && segments[1] == "keys":
		if r.Method == http.MethodDelete {
			s.handleRevokeKey(w, r, segments[2])
			return
		}
	case len(segments) == 1 && segments[0] == "docs":
		if r.Method == http.MethodGet {
			s.serveOpenAPIJSON(w, r)
			return
		}
	case len(segments) == 1 && segments[0] == "state":
		if r.Method == http.MethodGet {
			s.handleState(w, r)
			return
		}
	case len(segments) == 1 && segments[0] == "feed":
		if r.Method == http.MethodGet {
			s.handleFeed(w, r)
			return
		}
	case len(segments) == 1 && segments[0] == "snippets":
		if r.Method == http.MethodGet {
			s.handleSnippets(w, r)
			return
		}
	case len(segments) == 1 && segments[0] == "communities":
		if r.Method == http.MethodPost {
			s.handleCreateCommunity(w, r)
			return
		}
	case len(segments) == 2 && segments[0] == "communities":
		if r.Method == http.MethodGet {
			s.handleGetCommunity(w, r, segments[1])
			return
		}
	case len(segments) == 3 && segments[0] == "communities" && segments[2] == "posts":
		if r.Method == http.MethodGet {
			s.handleCommunityPosts(w, r, segments[1])
			return
		}
	case len(segments) == 3 && segments[0] == "communities" && segments[2] == "join":
		if r.Method == http.MethodPost {
			s.handleJoin(w, r, segments[1])
			return
		}
	case len(segments) == 3 && segments[0] == "communities" && segments[2] == "leave":
		if r.Method == http.MethodPost {
			s.handleLeave(w, r, segments[1])
			return
		}
	case len(segments) == 1 && segments[0] == "posts":
		if r.Method == http.MethodPost {
			s.handleCreatePost(w, r)
			return
		}
	case len(segments) == 2 && segments[0] == "posts":
		if r.Method == http.MethodGet {
			s.handleGetPost(w, r, segments[1])
			return
		}
		if r.Method == http.MethodDelete {
			s.handleDeletePost(w, r, segments[1])
			return
		}
	case len(segments) == 3 && segments[0] == "posts" && segments[2] == "comments":
		if r.Method == http.MethodGet {
			s.handlePostComments(w, r, segments[1])
			return
		}
		if r.Method == http.MethodPost {
			s.handleCreateComment(w, r, segments[1])
			return
		}
	case len(segments) == 3 && segments[0] == "posts" && segments[2] == "vote":
		if r.Method == http.MethodPost {
			s.handleVote(w, r, segments[1])
			return
		}
	case len(segments) == 2 && segments[0] == "comments":
		if r.Method == http.MethodDelete {
			s.handleDeleteComment(w, r, segments[1])
			return
		}
	case len(segments) == 1 && segments[0] == "votes":
		if r.Method == http.MethodGet {
			s.handleVotes(w, r)
			return
		}
	case len(segments) == 3 && segments[0] == "live" && segments[1] == "communities":
		if r.Method == http.MethodGet {
			s.handleLiveCommunity(w, r, segments[2])
			return
		}
	case len(segments) == 2 && segments[0] == "live" && segments[1] == "votes":
		if r.Method == http.MethodGet {
			s.handleLiveVotes(w, r)
			return
		}
	default:
		notFound(w)
		return
	}
	methodNotAllowed(w)
}

func (s *Server) serveOpenAPIJSON(w http.ResponseWriter, r *http.Request) {
	doc, err := swag.ReadDoc()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write([]byte(doc))
}

func (s *Server) allowRateLimit(w http.ResponseWriter, r *http.Request, action string, sess *session.Session) bool {
	if ok, retry := s.limits.Allow(s.limiter, action, "ip:"+s.clientIP(r)); !ok {
		writeRateLimit(w, retry)
		return false
	}
	if sess.SignedIn() {
		if ok, retry := s.limits.Allow(s.limiter, action, "uid:"+sess.UserID); !ok {
			writeRateLimit(w, retry)
			return false
		}
	}
	return true
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer ")), true
}

// optionalAuth resolves the caller's session. Requests without a valid
// bearer token get a throwaway anonymous session.
func (s *Server) optionalAuth(r *http.Request) *session.Session {
	bearer, ok := bearerToken(r)
	if !ok {
		return session.Anonymous()
	}
	id, err := s.auth.Authenticate(r.Context(), bearer)
	if err != nil {
		return session.Anonymous()
	}
	return s.sessions.For(id.UserID, id.DisplayName)
}

func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request) (*session.Session, auth.Identity, bool) {
	bearer, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
		return nil, auth.Identity{}, false
	}
	id, err := s.auth.Authenticate(r.Context(), bearer)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return nil, auth.Identity{}, false
	}
	return s.sessions.For(id.UserID, id.DisplayName), id, true
}

func (s *Server) clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// fail writes err with the status its kind maps to. Unmapped errors are
// logged and reported as 500.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSignedOut),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrInvalidChallenge),
		errors.Is(err, auth.ErrChallengeExpired),
		errors.Is(err, auth.ErrAlgMismatch),
		errors.Is(err, auth.ErrUnknownKey),
		errors.Is(err, auth.ErrKeyRevoked),
		errors.Is(err, auth.ErrBadSignature):
		return http.StatusUnauthorized
	case errors.Is(err, interact.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, state.ErrBusy),
		errors.Is(err, community.ErrCommunityTaken),
		errors.Is(err, auth.ErrNameTaken),
		errors.Is(err, auth.ErrKeyRegistered):
		return http.StatusConflict
	case errors.Is(err, interact.ErrInvalidVote),
		errors.Is(err, interact.ErrEmpty),
		errors.Is(err, community.ErrInvalidCommunityName),
		errors.Is(err, community.ErrInvalidPrivacy),
		errors.Is(err, auth.ErrInvalidName),
		errors.Is(err, auth.ErrUnsupportedAlg),
		errors.Is(err, docstore.ErrInvalidPath):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func readJSON(body io.ReadCloser, dest any) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("invalid body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeRateLimit(w http.ResponseWriter, retry time.Duration) {
	secs := int(retry.Seconds())
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":       "rate limit exceeded",
		"retry_after": secs,
	})
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, errors.New("not found"))
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// splitIDs parses a comma separated id list, dropping blanks.
func splitIDs(raw string) []string {
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ids = append(ids, part)
		}
	}
	return ids
}
