package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voicelink/pkg/session"
	"github.com/MrWong99/voicelink/pkg/transcript"
)

var _ transcript.Store = (*Store)(nil)

// Store archives transcripts in PostgreSQL. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, verifies the connection and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("transcript store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript store: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// StartSession implements [transcript.Store].
func (s *Store) StartSession(ctx context.Context, label string) (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("transcript store: new id: %w", err)
	}
	const q = `INSERT INTO transcript_sessions (id, label) VALUES ($1, $2)`
	if _, err := s.pool.Exec(ctx, q, id, label); err != nil {
		return uuid.Nil, fmt.Errorf("transcript store: start session: %w", err)
	}
	return id, nil
}

// Append implements [transcript.Store]. Entries are written in one batch;
// an entry whose sequence number already exists is left unchanged.
func (s *Store) Append(ctx context.Context, sessionID uuid.UUID, entries []transcript.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	const q = `
		INSERT INTO transcript_entries (session_id, seq, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id, seq) DO NOTHING`

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(q, sessionID, e.Seq, string(e.Role), e.Content, e.At)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("transcript store: append: %w", err)
	}
	return nil
}

// EndSession implements [transcript.Store].
func (s *Store) EndSession(ctx context.Context, sessionID uuid.UUID) error {
	const q = `UPDATE transcript_sessions SET ended_at = now() WHERE id = $1 AND ended_at IS NULL`
	if _, err := s.pool.Exec(ctx, q, sessionID); err != nil {
		return fmt.Errorf("transcript store: end session: %w", err)
	}
	return nil
}

// Entries implements [transcript.Store].
func (s *Store) Entries(ctx context.Context, sessionID uuid.UUID) ([]transcript.Entry, error) {
	const q = `
		SELECT seq, role, content, created_at
		FROM   transcript_entries
		WHERE  session_id = $1
		ORDER  BY seq`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("transcript store: entries: %w", err)
	}
	return collectEntries(rows)
}

// Search returns entries whose content matches query using PostgreSQL
// full-text search, newest sessions first.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]transcript.Entry, error) {
	q := `
		SELECT e.seq, e.role, e.content, e.created_at
		FROM   transcript_entries e
		JOIN   transcript_sessions s ON s.id = e.session_id
		WHERE  to_tsvector('english', e.content) @@ plainto_tsquery('english', $1)
		ORDER  BY s.started_at DESC, e.seq`
	args := []any{query}
	if limit > 0 {
		args = append(args, limit)
		q += "\nLIMIT $2"
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("transcript store: search: %w", err)
	}
	return collectEntries(rows)
}

// collectEntries scans pgx rows into entries.
func collectEntries(rows pgx.Rows) ([]transcript.Entry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (transcript.Entry, error) {
		var (
			e    transcript.Entry
			role string
		)
		if err := row.Scan(&e.Seq, &role, &e.Content, &e.At); err != nil {
			return transcript.Entry{}, err
		}
		e.Role = session.Role(role)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("transcript store: scan rows: %w", err)
	}
	if entries == nil {
		entries = []transcript.Entry{}
	}
	return entries, nil
}
