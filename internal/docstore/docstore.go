// Package docstore is the client interface for the document database that
// holds communities, posts, comments and per-user records.
//
// Documents live in collections addressed by slash-separated paths such as
// "posts" or "users/{uid}/postVotes". Every write bumps a store-wide
// sequence number which is reported back on snapshots and write results so
// that callers can order concurrent views of the same document.
package docstore

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	ErrNotFound     = errors.New("document not found")
	ErrInvalidPath  = errors.New("invalid document path")
	ErrInvalidField = errors.New("invalid field name")
	ErrAborted      = errors.New("transaction aborted")
)

// Client is implemented by every document store backend.
type Client interface {
	Get(ctx context.Context, path, id string) (Snapshot, error)
	Set(ctx context.Context, path, id string, v any) (WriteResult, error)
	Add(ctx context.Context, path string, v any) (string, error)
	Update(ctx context.Context, path, id string, fields map[string]any) (WriteResult, error)
	Delete(ctx context.Context, path, id string) error
	Query(ctx context.Context, q Query) ([]Snapshot, error)
	Batch() *Batch
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) ([]WriteResult, error)
	Listen(ctx context.Context, q Query, fn func(QuerySnapshot)) (unsubscribe func())
	Close() error
}

// Tx is the view of the store inside RunTransaction. Reads must happen
// before writes. Writes are applied at commit, and their results are
// returned by RunTransaction.
type Tx interface {
	Get(ctx context.Context, path, id string) (Snapshot, error)
	Set(path, id string, v any)
	Update(path, id string, fields map[string]any)
	Delete(path, id string)
}

type Snapshot struct {
	Path string
	ID   string
	Seq  uint64
	Data json.RawMessage
}

// DataTo decodes the document into v.
func (s Snapshot) DataTo(v any) error {
	return json.Unmarshal(s.Data, v)
}

// QuerySnapshot is one delivery of a listened query. Seq is the store
// sequence the result set is consistent with: every write with a higher
// sequence happened after the query ran.
type QuerySnapshot struct {
	Docs []Snapshot
	Seq  uint64
}

type WriteResult struct {
	Path string
	ID   string
	Seq  uint64
}

// Increment is an Update field transform adding N to a numeric field.
type Increment struct {
	N int
}

type serverTimestamp struct{}

// ServerTimestamp is an Update/Set field value replaced with the commit
// time (unix milliseconds).
var ServerTimestamp = serverTimestamp{}

func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a fresh lexically sortable document id.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// ValidatePath checks that path names a collection: an odd number of
// non-empty segments.
func ValidatePath(path string) error {
	parts := strings.Split(path, "/")
	if len(parts)%2 == 0 {
		return ErrInvalidPath
	}
	for _, p := range parts {
		if p == "" {
			return ErrInvalidPath
		}
	}
	return nil
}

// Join builds a collection path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

type OpKind int

const (
	OpSet OpKind = iota
	OpUpdate
	OpDelete
)

type Op struct {
	Kind   OpKind
	Path   string
	ID     string
	Value  any
	Fields map[string]any
}

// Batch collects writes that commit atomically.
type Batch struct {
	ops    []Op
	commit func(ctx context.Context, ops []Op) ([]WriteResult, error)
}

func NewBatch(commit func(ctx context.Context, ops []Op) ([]WriteResult, error)) *Batch {
	return &Batch{commit: commit}
}

func (b *Batch) Set(path, id string, v any) *Batch {
	b.ops = append(b.ops, Op{Kind: OpSet, Path: path, ID: id, Value: v})
	return b
}

func (b *Batch) Update(path, id string, fields map[string]any) *Batch {
	b.ops = append(b.ops, Op{Kind: OpUpdate, Path: path, ID: id, Fields: fields})
	return b
}

func (b *Batch) Delete(path, id string) *Batch {
	b.ops = append(b.ops, Op{Kind: OpDelete, Path: path, ID: id})
	return b
}

// Add appends an already built op.
func (b *Batch) Add(op Op) *Batch {
	b.ops = append(b.ops, op)
	return b
}

func (b *Batch) Len() int {
	return len(b.ops)
}

// Commit applies all writes or none. Results are in op order.
func (b *Batch) Commit(ctx context.Context) ([]WriteResult, error) {
	if len(b.ops) == 0 {
		return nil, nil
	}
	return b.commit(ctx, b.ops)
}

// SeqOf returns the sequence recorded for path/id in results, or 0.
func SeqOf(results []WriteResult, path, id string) uint64 {
	for _, r := range results {
		if r.Path == path && r.ID == id {
			return r.Seq
		}
	}
	return 0
}
