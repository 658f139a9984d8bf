package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
)

// pgxIface is the part of pgxpool.Pool the store uses.
type pgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgStore keeps states in PostgreSQL as JSON documents.
type PgStore struct {
	db      pgxIface
	pool    *pgxpool.Pool
	clk     clock.Clock
	Timeout time.Duration
}

// NewPgStore connects to the database. Connection string should look like
// postgresql://localhost:5432/abot?user=admn&password=passwd
func NewPgStore(ctx context.Context, connStr string, timeout time.Duration) (*PgStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create connection pool")
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err = pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed to reach database")
	}

	s := newPgStore(pool, clock.New(), timeout)
	s.pool = pool
	return s, nil
}

func newPgStore(db pgxIface, clk clock.Clock, timeout time.Duration) *PgStore {
	return &PgStore{db: db, clk: clk, Timeout: timeout}
}

func (s *PgStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.Timeout)
}

// Migrate creates the sessions table if it doesn't exist.
func (s *PgStore) Migrate(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS timer_sessions (
key TEXT PRIMARY KEY,
state JSONB NOT NULL,
updated_at TIMESTAMPTZ NOT NULL)`); err != nil {
		return errors.Wrap(err, "failed creating sessions table")
	}
	return nil
}

// Purge deletes all sessions. Timers can't outlive the process that ticks
// them, so sessions left by a previous run are dropped on start.
func (s *PgStore) Purge(ctx context.Context) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.db.Exec(ctx, `DELETE FROM timer_sessions`)
	if err != nil {
		return 0, errors.Wrap(err, "failed purging sessions")
	}
	return tag.RowsAffected(), nil
}

func (s *PgStore) Load(ctx context.Context, key Key) (*State, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var raw []byte
	err := s.db.QueryRow(ctx, `SELECT state FROM timer_sessions WHERE key=$1`, string(key)).Scan(&raw)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return &State{}, nil
	case err != nil:
		return nil, errors.Wrap(err, "failed loading session")
	}

	var st State
	if err = json.Unmarshal(raw, &st); err != nil {
		return nil, errors.Wrap(err, "failed decoding session")
	}
	return &st, nil
}

func (s *PgStore) Save(ctx context.Context, key Key, st *State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return errors.Wrap(err, "failed encoding session")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err = s.db.Exec(ctx, `INSERT INTO timer_sessions(key, state, updated_at)
VALUES($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET state=EXCLUDED.state, updated_at=EXCLUDED.updated_at`,
		string(key), raw, s.clk.Now().UTC()); err != nil {
		return errors.Wrap(err, "failed saving session")
	}
	return nil
}

func (s *PgStore) Wipe(ctx context.Context, key Key) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.db.Exec(ctx, `DELETE FROM timer_sessions WHERE key=$1`, string(key)); err != nil {
		return errors.Wrap(err, "failed wiping session")
	}
	return nil
}

// Close releases the connection pool.
func (s *PgStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
