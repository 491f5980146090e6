package httpapp

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphabot-ai/threadly/internal/auth"
	"github.com/alphabot-ai/threadly/internal/config"
	"github.com/alphabot-ai/threadly/internal/docstore/sqldoc"
	"github.com/alphabot-ai/threadly/internal/logging"
	"github.com/alphabot-ai/threadly/internal/model"
	"github.com/alphabot-ai/threadly/internal/rate"
)

func newTestServer(t *testing.T, limits config.RateLimits) *httptest.Server {
	t.Helper()
	name := strings.NewReplacer("/", "_").Replace(t.Name())
	db, err := sqldoc.OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	authSvc := auth.NewService(db, []byte("test-secret"), time.Hour, time.Minute)
	srv := NewServer(db, authSvc, rate.NewMemory(), config.Config{RateLimits: limits}, logging.Nop())
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

func call(t *testing.T, ts *httptest.Server, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

// signUp registers name with a fresh ed25519 key and returns its token.
func signUp(t *testing.T, ts *httptest.Server, name string) string {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	resp, body := call(t, ts, http.MethodPost, "/api/auth/challenge", "", map[string]string{"alg": auth.AlgEd25519})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	challenge := body["challenge"].(string)

	resp, body = call(t, ts, http.MethodPost, "/api/auth/register", "", map[string]string{
		"displayName": name,
		"alg":         auth.AlgEd25519,
		"publicKey":   base64.StdEncoding.EncodeToString(pub),
		"challenge":   challenge,
		"signature":   base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(challenge))),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	return body["token"].(string)
}

func TestRequestIDHeader(t *testing.T) {
	ts := newTestServer(t, config.RateLimits{})

	resp, _ := call(t, ts, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	resp2, err := ts.Client().Do(req)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, "abc-123", resp2.Header.Get("X-Request-Id"))
}

func TestRoutingErrors(t *testing.T) {
	ts := newTestServer(t, config.RateLimits{})

	resp, _ := call(t, ts, http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = call(t, ts, http.MethodPut, "/api/feed", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, body := call(t, ts, http.MethodPost, "/api/auth/challenge", "", map[string]string{"alg": "md5"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "unsupported alg")
}

func TestRegisterAndMe(t *testing.T) {
	ts := newTestServer(t, config.RateLimits{})
	token := signUp(t, ts, "alice")

	resp, body := call(t, ts, http.MethodGet, "/api/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	user := body["user"].(map[string]any)
	assert.Equal(t, "alice", user["displayName"])

	resp, _ = call(t, ts, http.MethodGet, "/api/me", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWritesRequireSignIn(t *testing.T) {
	ts := newTestServer(t, config.RateLimits{})

	for _, path := range []string{"/api/posts", "/api/communities", "/api/communities/golang/join", "/api/posts/p1/vote"} {
		resp, _ := call(t, ts, http.MethodPost, path, "", map[string]any{})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestCommunityPostCommentVoteFlow(t *testing.T) {
	ts := newTestServer(t, config.RateLimits{})
	alice := signUp(t, ts, "alice")
	bob := signUp(t, ts, "bob")

	resp, body := call(t, ts, http.MethodPost, "/api/communities", alice, map[string]string{"name": "golang"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.EqualValues(t, 1, body["numberOfMembers"])

	resp, _ = call(t, ts, http.MethodPost, "/api/communities", bob, map[string]string{"name": "golang"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = call(t, ts, http.MethodPost, "/api/posts", alice, map[string]string{
		"communityId": "golang", "title": "generics", "body": "finally",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	postID := body["id"].(string)

	resp, body = call(t, ts, http.MethodPost, "/api/posts/"+postID+"/vote", bob, map[string]int{"value": 1})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.EqualValues(t, 1, body["voteValue"])
	assert.EqualValues(t, 1, body["voteStatus"])

	resp, body = call(t, ts, http.MethodPost, "/api/posts/"+postID+"/vote", bob, map[string]int{"value": 1})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.EqualValues(t, 0, body["voteValue"])
	assert.EqualValues(t, 0, body["voteStatus"])

	resp, _ = call(t, ts, http.MethodPost, "/api/posts/"+postID+"/vote", bob, map[string]int{"value": 3})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = call(t, ts, http.MethodPost, "/api/posts/"+postID+"/comments", bob, map[string]string{"text": "nice"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	commentID := body["id"].(string)

	resp, body = call(t, ts, http.MethodGet, "/api/posts/"+postID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["post"].(map[string]any)["numberOfComments"])

	resp, _ = call(t, ts, http.MethodDelete, "/api/comments/"+commentID, alice, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = call(t, ts, http.MethodDelete, "/api/comments/"+commentID, bob, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = call(t, ts, http.MethodGet, "/api/posts/"+postID+"/comments", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["comments"])

	resp, _ = call(t, ts, http.MethodDelete, "/api/posts/"+postID, bob, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = call(t, ts, http.MethodDelete, "/api/posts/"+postID, alice, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = call(t, ts, http.MethodGet, "/api/posts/"+postID, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJoinLeaveAndFeed(t *testing.T) {
	ts := newTestServer(t, config.RateLimits{})
	alice := signUp(t, ts, "alice")
	bob := signUp(t, ts, "bob")

	for _, name := range []string{"golang", "rust"} {
		resp, _ := call(t, ts, http.MethodPost, "/api/communities", alice, map[string]string{"name": name})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp, _ = call(t, ts, http.MethodPost, "/api/posts", alice, map[string]string{
			"communityId": name, "title": "hello " + name,
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	// Signed out: global feed.
	resp, body := call(t, ts, http.MethodGet, "/api/feed", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["posts"], 2)

	resp, body = call(t, ts, http.MethodPost, "/api/communities/golang/join", bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, true, body["isMember"])
	assert.Len(t, body["snippets"], 1)

	resp, body = call(t, ts, http.MethodGet, "/api/feed", bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	posts := body["posts"].([]any)
	require.Len(t, posts, 1)
	assert.Equal(t, "golang", posts[0].(map[string]any)["communityId"])

	resp, body = call(t, ts, http.MethodGet, "/api/communities/golang", bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["isMember"])
	assert.EqualValues(t, 2, body["community"].(map[string]any)["numberOfMembers"])

	resp, body = call(t, ts, http.MethodPost, "/api/communities/golang/leave", bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["snippets"])

	resp, body = call(t, ts, http.MethodGet, "/api/snippets", bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["snippets"])

	resp, _ = call(t, ts, http.MethodPost, "/api/communities/nowhere/join", bob, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRateLimitedPosts(t *testing.T) {
	ts := newTestServer(t, config.RateLimits{PostPerMinute: 1})
	alice := signUp(t, ts, "alice")
	resp, _ := call(t, ts, http.MethodPost, "/api/communities", alice, map[string]string{"name": "golang"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	post := map[string]string{"communityId": "golang", "title": "one"}
	resp, _ = call(t, ts, http.MethodPost, "/api/posts", alice, post)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := call(t, ts, http.MethodPost, "/api/posts", alice, post)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, "rate limit exceeded", body["error"])
}

func TestLiveVotes(t *testing.T) {
	ts := newTestServer(t, config.RateLimits{})
	alice := signUp(t, ts, "alice")
	resp, _ := call(t, ts, http.MethodPost, "/api/communities", alice, map[string]string{"name": "golang"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, body := call(t, ts, http.MethodPost, "/api/posts", alice, map[string]string{"communityId": "golang", "title": "live"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	postID := body["id"].(string)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/live/votes?postIds=" + postID
	header := http.Header{"Authorization": {"Bearer " + alice}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()

	var msg liveMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "votes", msg.Type)
	assert.Empty(t, msg.PostVotes)

	resp, _ = call(t, ts, http.MethodPost, "/api/posts/"+postID+"/vote", alice, map[string]int{"value": -1})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for {
		require.NoError(t, conn.ReadJSON(&msg))
		if len(msg.PostVotes) == 1 {
			break
		}
	}
	assert.Equal(t, model.PostVote{ID: postID, PostID: postID, CommunityID: "golang", VoteValue: -1}, msg.PostVotes[0])
}

func TestLiveCommunityRejectsUnknown(t *testing.T) {
	ts := newTestServer(t, config.RateLimits{})
	resp, _ := call(t, ts, http.MethodGet, "/api/live/communities/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusMapping(t *testing.T) {
	assert.Equal(t, 499, statusFor(context.Canceled))
	assert.Equal(t, http.StatusInternalServerError, statusFor(fmt.Errorf("boom")))
}

func TestOpenAPIDocs(t *testing.T) {
	ts := newTestServer(t, config.RateLimits{})

	resp, body := call(t, ts, http.MethodGet, "/api/docs", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2.0", body["swagger"])
	paths := body["paths"].(map[string]any)
	assert.Contains(t, paths, "/api/posts/{id}/vote")
	assert.Contains(t, paths, "/api/communities/{id}/join")

	resp, err := ts.Client().Get(ts.URL + "/swagger/doc.json")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetPostKeepsOtherCachedVotes(t *testing.T) {
	ts := newTestServer(t, config.RateLimits{})
	token := signUp(t, ts, "alice")

	resp, body := call(t, ts, http.MethodPost, "/api/communities", token, map[string]any{"name": "golang"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	var ids []string
	for _, title := range []string{"one", "two"} {
		resp, body = call(t, ts, http.MethodPost, "/api/posts", token, map[string]any{"communityId": "golang", "title": title})
		require.Equal(t, http.StatusCreated, resp.StatusCode, body)
		ids = append(ids, body["id"].(string))
		resp, body = call(t, ts, http.MethodPost, "/api/posts/"+ids[len(ids)-1]+"/vote", token, map[string]any{"value": 1})
		require.Equal(t, http.StatusOK, resp.StatusCode, body)
	}

	resp, body = call(t, ts, http.MethodGet, "/api/posts/"+ids[0], token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.NotNil(t, body["vote"])

	resp, body = call(t, ts, http.MethodGet, "/api/state", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["postVotes"], 2)
}
