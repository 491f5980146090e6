// Package sqldoc stores documents as JSON rows in a single SQL table. It
// backs the docstore.Client interface with SQLite for single-node
// deployments and PostgreSQL (jsonb) for shared ones.
package sqldoc

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/alphabot-ai/threadly/internal/docstore"
	"github.com/alphabot-ai/threadly/internal/logging"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

var _ docstore.Client = (*Store)(nil)

//go:embed migrations
var migrations embed.FS

type Store struct {
	db  *sql.DB
	d   dialect
	hub *hub
	log logging.Logger
	now func() time.Time
}

type Option func(*Store)

func WithLogger(l logging.Logger) Option {
	return func(s *Store) { s.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens a store for driver "sqlite" or "postgres" and applies
// pending migrations.
func Open(driver, dsn string, opts ...Option) (*Store, error) {
	switch driver {
	case "", "sqlite":
		return open(sqliteDialect{}, dsn, opts...)
	case "postgres", "pgx":
		return open(postgresDialect{}, dsn, opts...)
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
}

func OpenSQLite(dsn string, opts ...Option) (*Store, error) {
	return open(sqliteDialect{}, dsn, opts...)
}

func OpenPostgres(dsn string, opts ...Option) (*Store, error) {
	return open(postgresDialect{}, dsn, opts...)
}

func open(d dialect, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open(d.driver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if d.name() == "sqlite" {
		// SQLite allows one writer; a single connection also keeps
		// shared-cache memory databases alive for the store's lifetime.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA busy_timeout = 5000;"); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	s := &Store{db: db, d: d, log: logging.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = newHub(s)
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations/"+s.d.name())
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(s.d.goose(), s.db, fsys)
	if err != nil {
		return err
	}
	_, err = provider.Up(ctx)
	return err
}

func (s *Store) Close() error {
	s.hub.closeAll()
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, path, id string) (docstore.Snapshot, error) {
	return s.get(ctx, s.db, path, id, false)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) get(ctx context.Context, q queryer, path, id string, lock bool) (docstore.Snapshot, error) {
	if err := docstore.ValidatePath(path); err != nil {
		return docstore.Snapshot{}, err
	}
	a := &args{d: s.d}
	stmt := fmt.Sprintf(`SELECT seq, data FROM documents WHERE path = %s AND id = %s`, a.add(path), a.add(id))
	if lock {
		stmt += s.d.lockClause()
	}
	var snap docstore.Snapshot
	var data []byte
	if err := q.QueryRowContext(ctx, stmt, a.vals...).Scan(&snap.Seq, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return docstore.Snapshot{}, docstore.ErrNotFound
		}
		return docstore.Snapshot{}, err
	}
	snap.Path = path
	snap.ID = id
	snap.Data = data
	return snap, nil
}

func (s *Store) Set(ctx context.Context, path, id string, v any) (docstore.WriteResult, error) {
	res, err := s.commit(ctx, []docstore.Op{{Kind: docstore.OpSet, Path: path, ID: id, Value: v}})
	if err != nil {
		return docstore.WriteResult{}, err
	}
	return res[0], nil
}

func (s *Store) Add(ctx context.Context, path string, v any) (string, error) {
	id := docstore.NewID()
	if _, err := s.Set(ctx, path, id, v); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Update(ctx context.Context, path, id string, fields map[string]any) (docstore.WriteResult, error) {
	res, err := s.commit(ctx, []docstore.Op{{Kind: docstore.OpUpdate, Path: path, ID: id, Fields: fields}})
	if err != nil {
		return docstore.WriteResult{}, err
	}
	return res[0], nil
}

func (s *Store) Delete(ctx context.Context, path, id string) error {
	_, err := s.commit(ctx, []docstore.Op{{Kind: docstore.OpDelete, Path: path, ID: id}})
	return err
}

func (s *Store) Batch() *docstore.Batch {
	return docstore.NewBatch(s.commit)
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Snapshot, error) {
	return s.query(ctx, s.db, q)
}

func (s *Store) query(ctx context.Context, qr queryer, q docstore.Query) ([]docstore.Snapshot, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	a := &args{d: s.d}
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT id, seq, data FROM documents WHERE path = %s", a.add(q.Path))
	for _, f := range q.Filters {
		expr := s.d.field(f.Field)
		if f.Op == docstore.OpIn {
			values := f.Value.([]any)
			if len(values) == 0 {
				return nil, nil
			}
			ph := make([]string, 0, len(values))
			for _, v := range values {
				p, err := a.addValue(v)
				if err != nil {
					return nil, err
				}
				ph = append(ph, p)
			}
			fmt.Fprintf(&sb, " AND %s IN (%s)", expr, strings.Join(ph, ", "))
			continue
		}
		p, err := a.addValue(f.Value)
		if err != nil {
			return nil, err
		}
		op := string(f.Op)
		if f.Op == docstore.OpEqual {
			op = "="
		}
		fmt.Fprintf(&sb, " AND %s %s %s", expr, op, p)
	}
	sb.WriteString(" ORDER BY ")
	for _, o := range q.Orders {
		dir := "ASC"
		if o.Dir == docstore.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&sb, "%s %s, ", s.d.field(o.Field), dir)
	}
	sb.WriteString("id ASC")
	if q.Max > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Max)
	}

	rows, err := qr.QueryContext(ctx, sb.String(), a.vals...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []docstore.Snapshot
	for rows.Next() {
		snap := docstore.Snapshot{Path: q.Path}
		var data []byte
		if err := rows.Scan(&snap.ID, &snap.Seq, &data); err != nil {
			return nil, err
		}
		snap.Data = data
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return snaps, nil
}

// readSnapshot runs q and reads the write sequence inside one read
// transaction so the pair is consistent.
func (s *Store) readSnapshot(ctx context.Context, q docstore.Query) (docstore.QuerySnapshot, error) {
	tx, err := s.db.BeginTx(ctx, s.d.readOptions())
	if err != nil {
		return docstore.QuerySnapshot{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var snap docstore.QuerySnapshot
	if err := tx.QueryRowContext(ctx, `SELECT seq FROM doc_counter WHERE id = 1`).Scan(&snap.Seq); err != nil {
		return docstore.QuerySnapshot{}, err
	}
	docs, err := s.query(ctx, tx, q)
	if err != nil {
		return docstore.QuerySnapshot{}, err
	}
	snap.Docs = docs
	return snap, nil
}

// commit applies ops in one SQL transaction and notifies listeners of
// the touched collections once it is durable.
func (s *Store) commit(ctx context.Context, ops []docstore.Op) ([]docstore.WriteResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	results, err := s.applyOps(ctx, tx, ops)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	s.hub.publish(ops)
	return results, nil
}

func (s *Store) applyOps(ctx context.Context, tx *sql.Tx, ops []docstore.Op) ([]docstore.WriteResult, error) {
	seq, err := s.nextSeq(ctx, tx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	results := make([]docstore.WriteResult, 0, len(ops))
	for _, op := range ops {
		if err := docstore.ValidatePath(op.Path); err != nil {
			return nil, err
		}
		if op.ID == "" {
			return nil, fmt.Errorf("%w: empty id", docstore.ErrInvalidPath)
		}
		switch op.Kind {
		case docstore.OpSet:
			data, err := docstore.EncodeDocument(op.Value, now)
			if err != nil {
				return nil, err
			}
			if err := s.upsert(ctx, tx, op.Path, op.ID, data, seq, now); err != nil {
				return nil, err
			}
		case docstore.OpUpdate:
			cur, err := s.get(ctx, tx, op.Path, op.ID, true)
			if err != nil {
				return nil, fmt.Errorf("update %s/%s: %w", op.Path, op.ID, err)
			}
			data, err := docstore.ApplyFields(cur.Data, op.Fields, now)
			if err != nil {
				return nil, err
			}
			a := &args{d: s.d}
			stmt := fmt.Sprintf(`UPDATE documents SET data = %s, seq = %s, updated_at = %s WHERE path = %s AND id = %s`,
				a.addData(data), a.add(int64(seq)), a.add(now.UnixMilli()), a.add(op.Path), a.add(op.ID))
			if _, err := tx.ExecContext(ctx, stmt, a.vals...); err != nil {
				return nil, err
			}
		case docstore.OpDelete:
			a := &args{d: s.d}
			stmt := fmt.Sprintf(`DELETE FROM documents WHERE path = %s AND id = %s`, a.add(op.Path), a.add(op.ID))
			if _, err := tx.ExecContext(ctx, stmt, a.vals...); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unknown op kind %d", op.Kind)
		}
		results = append(results, docstore.WriteResult{Path: op.Path, ID: op.ID, Seq: seq})
	}
	return results, nil
}

func (s *Store) upsert(ctx context.Context, tx *sql.Tx, path, id string, data []byte, seq uint64, now time.Time) error {
	a := &args{d: s.d}
	stmt := fmt.Sprintf(`
INSERT INTO documents (path, id, data, seq, created_at, updated_at)
VALUES (%s, %s, %s, %s, %s, %s)
ON CONFLICT (path, id) DO UPDATE SET data = excluded.data, seq = excluded.seq, updated_at = excluded.updated_at
`, a.add(path), a.add(id), a.addData(data), a.add(int64(seq)), a.add(now.UnixMilli()), a.add(now.UnixMilli()))
	_, err := tx.ExecContext(ctx, stmt, a.vals...)
	return err
}

func (s *Store) nextSeq(ctx context.Context, tx *sql.Tx) (uint64, error) {
	var seq uint64
	err := tx.QueryRowContext(ctx, `UPDATE doc_counter SET seq = seq + 1 WHERE id = 1 RETURNING seq`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next seq: %w", err)
	}
	return seq, nil
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) ([]docstore.WriteResult, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	t := &txn{s: s, tx: sqlTx}
	if err := fn(ctx, t); err != nil {
		_ = sqlTx.Rollback()
		return nil, err
	}
	var results []docstore.WriteResult
	if len(t.ops) > 0 {
		if results, err = s.applyOps(ctx, sqlTx, t.ops); err != nil {
			_ = sqlTx.Rollback()
			return nil, err
		}
	}
	if err := sqlTx.Commit(); err != nil {
		return nil, err
	}
	s.hub.publish(t.ops)
	return results, nil
}

type txn struct {
	s   *Store
	tx  *sql.Tx
	ops []docstore.Op
}

func (t *txn) Get(ctx context.Context, path, id string) (docstore.Snapshot, error) {
	if len(t.ops) > 0 {
		return docstore.Snapshot{}, fmt.Errorf("%w: read after write", docstore.ErrAborted)
	}
	return t.s.get(ctx, t.tx, path, id, true)
}

func (t *txn) Set(path, id string, v any) {
	t.ops = append(t.ops, docstore.Op{Kind: docstore.OpSet, Path: path, ID: id, Value: v})
}

func (t *txn) Update(path, id string, fields map[string]any) {
	t.ops = append(t.ops, docstore.Op{Kind: docstore.OpUpdate, Path: path, ID: id, Fields: fields})
}

func (t *txn) Delete(path, id string) {
	t.ops = append(t.ops, docstore.Op{Kind: docstore.OpDelete, Path: path, ID: id})
}
