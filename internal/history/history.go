// Package history records search queries per project so they can be
// listed, ranked and offered as suggestions.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	verrors "github.com/Aman-CERP/vgrep/internal/errors"
)

// DefaultLimit is how many entries are kept.
const DefaultLimit = 100

const schema = `
CREATE TABLE IF NOT EXISTS queries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	query TEXT NOT NULL,
	result_count INTEGER NOT NULL DEFAULT 0,
	filters TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_queries_query ON queries(query);
`

// Entry is one recorded search.
type Entry struct {
	Query       string
	ResultCount int
	Filters     string // Rendered filter list, e.g. "ext=go lang=go"
	At          time.Time
}

// QueryCount is a query with the number of times it was run.
type QueryCount struct {
	Query string
	Count int
}

// Store is a SQLite-backed query log.
type Store struct {
	db    *sql.DB
	limit int
	now   func() time.Time
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, verrors.New(verrors.ErrCodeDataDir, "failed to open history database", err).
			WithDetail("path", path)
	}
	db.SetMaxOpenConns(1)

	// modernc ignores mattn-style DSN params, so pragmas go through Exec.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range append(pragmas, schema) {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, verrors.New(verrors.ErrCodeDataDir, "failed to initialize history database", err).
				WithDetail("path", path)
		}
	}
	return &Store{db: db, limit: DefaultLimit, now: time.Now}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add records a query. Blank queries and an exact repeat of the most
// recent query are ignored. Entries past the limit are dropped oldest
// first.
func (s *Store) Add(ctx context.Context, e Entry) error {
	q := strings.TrimSpace(e.Query)
	if q == "" {
		return nil
	}
	at := e.At
	if at.IsZero() {
		at = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var last string
	err = tx.QueryRowContext(ctx, `SELECT query FROM queries ORDER BY id DESC LIMIT 1`).Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("read last query: %w", err)
	case last == q:
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO queries (query, result_count, filters, created_at) VALUES (?, ?, ?, ?)`,
		q, e.ResultCount, e.Filters, at.UnixNano()); err != nil {
		return fmt.Errorf("insert query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM queries
		WHERE id NOT IN (SELECT id FROM queries ORDER BY id DESC LIMIT ?)
	`, s.limit); err != nil {
		return fmt.Errorf("trim history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Recent returns up to n entries, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT query, result_count, filters, created_at
		FROM queries
		ORDER BY id DESC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var nanos int64
		if err := rows.Scan(&e.Query, &e.ResultCount, &e.Filters, &nanos); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.At = time.Unix(0, nanos)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Suggest returns up to n distinct past queries containing fragment,
// ignoring case, most recently used first.
func (s *Store) Suggest(ctx context.Context, fragment string, n int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT query, MAX(id) AS latest
		FROM queries
		WHERE instr(lower(query), lower(?)) > 0
		GROUP BY query
		ORDER BY latest DESC
		LIMIT ?
	`, fragment, n)
	if err != nil {
		return nil, fmt.Errorf("query suggestions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var q string
		var latest int64
		if err := rows.Scan(&q, &latest); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// Top returns the n most frequent queries. Ties sort by query text.
func (s *Store) Top(ctx context.Context, n int) ([]QueryCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT query, COUNT(*) AS uses
		FROM queries
		GROUP BY query
		ORDER BY uses DESC, query ASC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("query top: %w", err)
	}
	defer rows.Close()

	var out []QueryCount
	for rows.Next() {
		var qc QueryCount
		if err := rows.Scan(&qc.Query, &qc.Count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, qc)
	}
	return out, rows.Err()
}

// Len reports the number of stored entries.
func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count history: %w", err)
	}
	return n, nil
}

// Clear deletes every entry.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM queries`); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}
