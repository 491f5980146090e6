package httpapp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alphabot-ai/threadly/internal/model"
	"github.com/alphabot-ai/threadly/internal/session"
	"github.com/alphabot-ai/threadly/internal/state"
)

const (
	liveWriteWait  = 10 * time.Second
	livePingPeriod = 30 * time.Second
	livePongWait   = livePingPeriod + 10*time.Second
)

// liveMessage is one frame pushed to a live subscriber.
type liveMessage struct {
	Type      string           `json:"type"`
	Posts     []model.Post     `json:"posts,omitempty"`
	PostVotes []model.PostVote `json:"postVotes"`
}

// handleLiveCommunity streams a community's posts, and the caller's votes
// on them, every time the session state changes.
func (s *Server) handleLiveCommunity(w http.ResponseWriter, r *http.Request, communityID string) {
	sess := s.optionalAuth(r)
	if _, err := s.communities.Visit(r.Context(), sess, communityID); err != nil {
		s.fail(w, r, err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	updates, unsubscribe := subscribe(sess)
	defer unsubscribe()

	if err := s.feed.LoadCommunity(ctx, sess, communityID); err != nil {
		s.log.Warn(ctx, "live community initial load failed", "community", communityID, "error", err)
	}
	stopPosts := s.posts.WatchCommunityPosts(ctx, sess, communityID)
	defer stopPosts()

	var (
		watched   map[string]bool
		stopVotes = func() {}
	)
	defer func() { stopVotes() }()

	frame := func(st state.State) liveMessage {
		msg := liveMessage{Type: "posts", Posts: []model.Post{}, PostVotes: []model.PostVote{}}
		ids := make(map[string]bool)
		for _, p := range st.Posts {
			if p.CommunityID == communityID {
				msg.Posts = append(msg.Posts, p)
				ids[p.ID] = true
			}
		}
		for _, v := range st.PostVotes {
			if ids[v.PostID] {
				msg.PostVotes = append(msg.PostVotes, v)
			}
		}
		if !sameKeys(ids, watched) {
			stopVotes()
			watched = ids
			stopVotes = s.posts.WatchPostVotes(ctx, sess, keys(ids))
		}
		return msg
	}

	s.stream(ctx, cancel, conn, sess.Snapshot(), updates, frame)
}

// handleLiveVotes streams the caller's votes on the listed posts.
func (s *Server) handleLiveVotes(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	ids := splitIDs(r.URL.Query().Get("postIds"))
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("postIds required"))
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	updates, unsubscribe := subscribe(sess)
	defer unsubscribe()

	stop := s.posts.WatchPostVotes(ctx, sess, ids)
	defer stop()

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	frame := func(st state.State) liveMessage {
		msg := liveMessage{Type: "votes", PostVotes: []model.PostVote{}}
		for _, v := range st.PostVotes {
			if wanted[v.PostID] {
				msg.PostVotes = append(msg.PostVotes, v)
			}
		}
		return msg
	}

	s.stream(ctx, cancel, conn, sess.Snapshot(), updates, frame)
}

// subscribe returns a channel holding the latest session state. Older
// states are dropped when the reader falls behind.
func subscribe(sess *session.Session) (<-chan state.State, func()) {
	updates := make(chan state.State, 1)
	cancel := sess.Subscribe(func(st state.State) {
		select {
		case <-updates:
		default:
		}
		select {
		case updates <- st:
		default:
		}
	})
	return updates, cancel
}

// stream writes frame(state) for the initial state and every update until
// the peer goes away or ctx ends. Frames equal to the previous one are
// skipped.
func (s *Server) stream(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, initial state.State, updates <-chan state.State, frame func(state.State) liveMessage) {
	defer conn.Close()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(livePongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(livePongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(livePingPeriod)
	defer ping.Stop()

	var last *liveMessage
	send := func(st state.State) error {
		msg := frame(st)
		if last != nil && sameFrame(*last, msg) {
			return nil
		}
		last = &msg
		_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
		return conn.WriteJSON(msg)
	}

	if err := send(initial); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(liveWriteWait))
			return
		case st := <-updates:
			if err := send(st); err != nil {
				s.log.Debug(ctx, "live write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteWait)); err != nil {
				return
			}
		}
	}
}

func sameFrame(a, b liveMessage) bool {
	if a.Type != b.Type || len(a.Posts) != len(b.Posts) || len(a.PostVotes) != len(b.PostVotes) {
		return false
	}
	for i := range a.Posts {
		if a.Posts[i] != b.Posts[i] {
			return false
		}
	}
	for i := range a.PostVotes {
		if a.PostVotes[i] != b.PostVotes[i] {
			return false
		}
	}
	return true
}

func sameKeys(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
