// Package history keeps every transcript in a local SQLite database.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fmueller/voxpush/internal/transcribe"
)

const DefaultLimit = 20

var ErrNotFound = errors.New("transcript not found")

const schema = `
CREATE TABLE IF NOT EXISTS transcripts (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL,
	text TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	device TEXT NOT NULL DEFAULT '',
	savedPath TEXT NOT NULL DEFAULT '',
	createdAt REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS transcripts_created ON transcripts(createdAt);
`

type Entry struct {
	Seq       int64     `json:"seq"`
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Model     string    `json:"model,omitempty"`
	Device    string    `json:"device,omitempty"`
	SavedPath string    `json:"saved,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := open(fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenReadOnly opens an existing database without write access.
func OpenReadOnly(path string) (*Store, error) {
	db, err := open(fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores t. Silent transcripts carry no text and are skipped.
func (s *Store) Record(ctx context.Context, t transcribe.Transcript) error {
	if t.Silent || strings.TrimSpace(t.Text) == "" {
		return nil
	}
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcripts (id, text, model, device, savedPath, createdAt)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.ID, t.Text, t.Model, t.Device, t.SavedPath, unixFromTime(created))
	if err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}
	return nil
}

// Recent returns up to limit transcripts, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return s.query(ctx, `
		SELECT seq, id, text, model, device, savedPath, createdAt
		FROM transcripts
		ORDER BY createdAt DESC, seq DESC
		LIMIT ?
	`, clampLimit(limit))
}

// Search returns transcripts containing query, case-insensitively, newest first.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Entry, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.Recent(ctx, limit)
	}
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	return s.query(ctx, `
		SELECT seq, id, text, model, device, savedPath, createdAt
		FROM transcripts
		WHERE lower(text) LIKE ? ESCAPE '\'
		ORDER BY createdAt DESC, seq DESC
		LIMIT ?
	`, pattern, clampLimit(limit))
}

// Get returns the most recent transcript with the given ID.
func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	entries, err := s.query(ctx, `
		SELECT seq, id, text, model, device, savedPath, createdAt
		FROM transcripts
		WHERE id = ?
		ORDER BY seq DESC
		LIMIT 1
	`, id)
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return entries[0], nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query transcripts: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var createdAt float64
		if err := rows.Scan(&e.Seq, &e.ID, &e.Text, &e.Model, &e.Device, &e.SavedPath, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		e.CreatedAt = timeFromUnix(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, 500)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
