package queue

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/five82/tether/internal/storage"
	"github.com/five82/tether/internal/storage/sqlitemigrate"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// ErrClosed is wrapped in a *storage.Error when a closed or zero Store is used.
var ErrClosed = errors.New("pending-write store is closed")

// LocalIDPrefix marks note ids handed out for creates that have not reached
// the server.
const LocalIDPrefix = "local-"

// sqliteBusyTimeout is how long SQLite waits on a locked database before
// returning SQLITE_BUSY.
const sqliteBusyTimeout = 5000 // milliseconds

// Queue is the pending-write capability the sync coordinator and the fetch
// interceptor depend on. *Store implements it.
type Queue interface {
	Enqueue(ctx context.Context, op Op) (Mutation, error)
	List(ctx context.Context) ([]Mutation, error)
	Remove(ctx context.Context, id int64) error
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	BindAlias(ctx context.Context, localID, serverID string) error
	ResolveAlias(ctx context.Context, id string) (string, error)
}

var _ Queue = (*Store)(nil)

// Store is the SQLite-backed durable queue of pending note mutations.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the queue database at path and applies
// migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("open queue: path is empty")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o750); err != nil {
		return nil, storage.Wrap("open", fmt.Errorf("create queue dir: %w", err))
	}

	db, err := sql.Open("sqlite", cleanPath)
	if err != nil {
		return nil, storage.Wrap("open", err)
	}
	// One connection keeps pragmas in effect and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, storage.Wrap("open", fmt.Errorf("ping sqlite: %w", err))
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`
		PRAGMA busy_timeout = %d;
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = FULL;
	`, sqliteBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, storage.Wrap("open", fmt.Errorf("apply pragmas: %w", err))
	}
	if err := sqlitemigrate.Apply(ctx, db, migrationFS, "migrations"); err != nil {
		_ = db.Close()
		return nil, storage.Wrap("open", fmt.Errorf("run migrations: %w", err))
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return storage.Wrap("close", err)
	}
	return nil
}

func (s *Store) ready(op string) error {
	if s == nil || s.db == nil {
		return storage.Wrap(op, ErrClosed)
	}
	return nil
}

// Enqueue persists op as a new mutation with the next identifier. A Create
// without a LocalID is given one. The insert is a single statement, so a
// failed enqueue leaves nothing behind.
func (s *Store) Enqueue(ctx context.Context, op Op) (Mutation, error) {
	if err := s.ready("enqueue"); err != nil {
		return Mutation{}, err
	}
	if err := Validate(op); err != nil {
		return Mutation{}, fmt.Errorf("enqueue: %w", err)
	}
	if c, ok := op.(Create); ok && strings.TrimSpace(c.LocalID) == "" {
		c.LocalID = LocalIDPrefix + uuid.NewString()
		op = c
	}
	payload, err := encodeOp(op)
	if err != nil {
		return Mutation{}, fmt.Errorf("enqueue: %w", err)
	}

	m := Mutation{
		Op:             op,
		IdempotencyKey: uuid.NewString(),
		CreatedAt:      s.now().UTC().Truncate(time.Millisecond),
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO pending_mutations (action, payload, idempotency_key, created_at)
VALUES (?, ?, ?, ?)`,
		string(op.Action()), string(payload), m.IdempotencyKey, m.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return Mutation{}, storage.Wrap("enqueue", err)
	}
	m.ID, err = res.LastInsertId()
	if err != nil {
		return Mutation{}, storage.Wrap("enqueue", err)
	}
	return m, nil
}

// List returns every queued mutation in ascending identifier order.
func (s *Store) List(ctx context.Context) ([]Mutation, error) {
	if err := s.ready("list"); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, action, payload, idempotency_key, created_at
FROM pending_mutations
ORDER BY id ASC`)
	if err != nil {
		return nil, storage.Wrap("list", err)
	}
	defer rows.Close()

	var out []Mutation
	for rows.Next() {
		var (
			m         Mutation
			action    string
			payload   string
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &action, &payload, &m.IdempotencyKey, &createdAt); err != nil {
			return nil, storage.Wrap("list", err)
		}
		m.Op, err = decodeOp(Action(action), []byte(payload))
		if err != nil {
			return nil, storage.Wrap("list", fmt.Errorf("mutation %d: %w", m.ID, err))
		}
		m.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Wrap("list", err)
	}
	return out, nil
}

// Remove deletes the mutation with the given id. Removing an id that is not
// queued is not an error.
func (s *Store) Remove(ctx context.Context, id int64) error {
	if err := s.ready("remove"); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_mutations WHERE id = ?`, id); err != nil {
		return storage.Wrap("remove", err)
	}
	return nil
}

// Clear discards every queued mutation. Identifiers are still never reused.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.ready("clear"); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_mutations`); err != nil {
		return storage.Wrap("clear", err)
	}
	return nil
}

// Count returns the number of queued mutations.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := s.ready("count"); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_mutations`).Scan(&n); err != nil {
		return 0, storage.Wrap("count", err)
	}
	return n, nil
}

// BindAlias records the server id assigned to a note created offline.
func (s *Store) BindAlias(ctx context.Context, localID, serverID string) error {
	if err := s.ready("bind alias"); err != nil {
		return err
	}
	localID = strings.TrimSpace(localID)
	serverID = strings.TrimSpace(serverID)
	if localID == "" || serverID == "" {
		return errors.New("bind alias: local and server ids are required")
	}
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO note_aliases (local_id, server_id, created_at) VALUES (?, ?, ?)
ON CONFLICT (local_id) DO UPDATE SET server_id = excluded.server_id`,
		localID, serverID, s.now().UTC().UnixMilli(),
	); err != nil {
		return storage.Wrap("bind alias", err)
	}
	return nil
}

// ResolveAlias maps a local note id to its server id. Ids without an alias
// are returned unchanged.
func (s *Store) ResolveAlias(ctx context.Context, id string) (string, error) {
	if !strings.HasPrefix(id, LocalIDPrefix) {
		return id, nil
	}
	if err := s.ready("resolve alias"); err != nil {
		return "", err
	}
	var serverID string
	err := s.db.QueryRowContext(ctx, `SELECT server_id FROM note_aliases WHERE local_id = ?`, id).Scan(&serverID)
	if errors.Is(err, sql.ErrNoRows) {
		return id, nil
	}
	if err != nil {
		return "", storage.Wrap("resolve alias", err)
	}
	return serverID, nil
}
