package sqldoc

import (
	"context"
	"sync"

	"github.com/alphabot-ai/threadly/internal/docstore"
)

// hub fans committed writes out to the listeners watching the written
// collections. Notifications are process-local.
type hub struct {
	s         *Store
	mu        sync.Mutex
	listeners map[*listener]struct{}
}

type listener struct {
	q      docstore.Query
	fn     func(docstore.QuerySnapshot)
	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

func newHub(s *Store) *hub {
	return &hub{s: s, listeners: make(map[*listener]struct{})}
}

// Listen runs q now and again after every committed write to q's
// collection, passing the full result set to fn together with the store
// sequence it is consistent with. Bursts of writes are
// coalesced into one delivery. Once the returned func returns, fn is not
// called again; it must not be called from inside fn.
func (s *Store) Listen(ctx context.Context, q docstore.Query, fn func(docstore.QuerySnapshot)) func() {
	lctx, cancel := context.WithCancel(ctx)
	l := &listener{
		q:      q,
		fn:     fn,
		wake:   make(chan struct{}, 1),
		ctx:    lctx,
		cancel: cancel,
	}
	s.hub.add(l)
	l.wake <- struct{}{}
	go s.hub.run(l)

	return func() {
		l.stop()
		s.hub.remove(l)
	}
}

func (h *hub) add(l *listener) {
	h.mu.Lock()
	h.listeners[l] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(l *listener) {
	h.mu.Lock()
	delete(h.listeners, l)
	h.mu.Unlock()
}

func (h *hub) run(l *listener) {
	defer h.remove(l)
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-l.wake:
		}
		snap, err := h.s.readSnapshot(l.ctx, l.q)
		if err != nil {
			if l.ctx.Err() == nil {
				h.s.log.Error(l.ctx, "listener query failed", "path", l.q.Path, "error", err)
			}
			continue
		}
		l.deliver(snap)
	}
}

func (h *hub) publish(ops []docstore.Op) {
	paths := make(map[string]struct{}, len(ops))
	for _, op := range ops {
		paths[op.Path] = struct{}{}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for l := range h.listeners {
		if _, ok := paths[l.q.Path]; !ok {
			continue
		}
		select {
		case l.wake <- struct{}{}:
		default:
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	ls := make([]*listener, 0, len(h.listeners))
	for l := range h.listeners {
		ls = append(ls, l)
	}
	h.listeners = make(map[*listener]struct{})
	h.mu.Unlock()
	for _, l := range ls {
		l.stop()
	}
}

func (l *listener) deliver(snap docstore.QuerySnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.ctx.Err() != nil {
		return
	}
	l.fn(snap)
}

func (l *listener) stop() {
	l.cancel()
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}
