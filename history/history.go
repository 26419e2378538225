// Package history keeps a log of dispatches in SQLite: which document
// links were opened, how long the fetch and render took, how they failed,
// and when and why their sessions closed.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/docpeek/classify"
	"github.com/hazyhaar/docpeek/dbopen"
	"github.com/hazyhaar/docpeek/dispatch"
	"github.com/hazyhaar/docpeek/idgen"
	"github.com/hazyhaar/docpeek/session"
)

// Schema creates the dispatches table. Idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS dispatches (
    id           TEXT PRIMARY KEY,
    url          TEXT NOT NULL,
    kind         TEXT NOT NULL,
    session_id   TEXT NOT NULL DEFAULT '',
    outcome      TEXT NOT NULL DEFAULT '',
    status       INTEGER NOT NULL DEFAULT 0,
    error        TEXT NOT NULL DEFAULT '',
    elapsed_ms   INTEGER NOT NULL DEFAULT 0,
    created_at   INTEGER NOT NULL,
    closed_at    INTEGER,
    close_reason TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_dispatches_created ON dispatches(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_dispatches_session ON dispatches(session_id) WHERE session_id != '';
`

// Entry is one logged dispatch.
type Entry struct {
	ID          string        `json:"id"`
	URL         string        `json:"url"`
	Kind        classify.Kind `json:"kind"`
	SessionID   string        `json:"session_id,omitempty"`
	Outcome     string        `json:"outcome"`
	Status      int           `json:"status,omitempty"`
	Error       string        `json:"error,omitempty"`
	ElapsedMs   int64         `json:"elapsed_ms"`
	CreatedAt   time.Time     `json:"created_at"`
	ClosedAt    *time.Time    `json:"closed_at,omitempty"`
	CloseReason string        `json:"close_reason,omitempty"`
}

// Filter controls Recent.
type Filter struct {
	Kind       classify.Kind // None means every kind
	FailedOnly bool
	Limit      int // default 50, capped at 500
	Offset     int
}

// Store persists dispatch entries.
type Store struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator sets a custom ID generator for entry IDs.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(s *Store) { s.newID = gen }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New wraps db, which must already carry Schema.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		newID:  idgen.Prefixed("dsp_", idgen.Default),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open opens (creating if needed) the history database at path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return New(db, opts...), nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// RecordDispatch implements dispatch.Recorder.
func (s *Store) RecordDispatch(ctx context.Context, e dispatch.Event) error {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO dispatches (id, url, kind, session_id, outcome, status, error, elapsed_ms, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		s.newID(), e.URL, e.Kind.String(), e.SessionID, string(e.Outcome), e.Status, e.Err,
		e.Elapsed.Milliseconds(), at.UnixMilli())
	if err != nil {
		return fmt.Errorf("history: record dispatch: %w", err)
	}
	return nil
}

// RecordClose stamps the dispatch that opened sessionID as closed.
func (s *Store) RecordClose(ctx context.Context, sessionID string, reason session.CloseReason, at time.Time) error {
	_, err := dbopen.Exec(ctx, s.db, `
		UPDATE dispatches SET closed_at = ?, close_reason = ?
		WHERE session_id = ? AND closed_at IS NULL`,
		at.UnixMilli(), string(reason), sessionID)
	if err != nil {
		return fmt.Errorf("history: record close: %w", err)
	}
	return nil
}

// SessionClosed is a session.Manager close hook. Failures are logged, the
// session is gone either way.
func (s *Store) SessionClosed(sess *session.Session, reason session.CloseReason) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.RecordClose(ctx, sess.ID, reason, time.Now()); err != nil {
		s.logger.Warn("history: close not recorded", "session", sess.ID, "error", err)
	}
}

// Recent returns entries matching f, newest first.
func (s *Store) Recent(ctx context.Context, f Filter) ([]Entry, error) {
	q := `SELECT id, url, kind, session_id, outcome, status, error, elapsed_ms, created_at, closed_at, close_reason
		FROM dispatches WHERE 1=1`
	var args []any
	if f.Kind != classify.None {
		q += " AND kind = ?"
		args = append(args, f.Kind.String())
	}
	if f.FailedOnly {
		q += " AND error != ''"
	}

	limit := 50
	if f.Limit > 0 {
		limit = min(f.Limit, 500)
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, max(f.Offset, 0))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			kind     string
			created  int64
			closedAt sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.URL, &kind, &e.SessionID, &e.Outcome, &e.Status, &e.Error,
			&e.ElapsedMs, &created, &closedAt, &e.CloseReason); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		e.Kind = classify.ParseKind(kind)
		e.CreatedAt = time.UnixMilli(created).UTC()
		if closedAt.Valid {
			t := time.UnixMilli(closedAt.Int64).UTC()
			e.ClosedAt = &t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// BySession returns the entry that opened sessionID.
func (s *Store) BySession(ctx context.Context, sessionID string) (*Entry, error) {
	var (
		e        Entry
		kind     string
		created  int64
		closedAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, url, kind, session_id, outcome, status, error, elapsed_ms, created_at, closed_at, close_reason
		FROM dispatches WHERE session_id = ? ORDER BY created_at DESC LIMIT 1`, sessionID).
		Scan(&e.ID, &e.URL, &kind, &e.SessionID, &e.Outcome, &e.Status, &e.Error, &e.ElapsedMs, &created, &closedAt, &e.CloseReason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: by session: %w", err)
	}
	e.Kind = classify.ParseKind(kind)
	e.CreatedAt = time.UnixMilli(created).UTC()
	if closedAt.Valid {
		t := time.UnixMilli(closedAt.Int64).UTC()
		e.ClosedAt = &t
	}
	return &e, nil
}

var _ dispatch.Recorder = (*Store)(nil)
