package session

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
)

var ErrSessionNotFound = errors.New("no open document at this path")

// DefaultHistorySize bounds the commit message history.
const DefaultHistorySize = 10

// Record is the persisted identity of one open document.
type Record struct {
	WorkingPath string
	Owner       string
	Repo        string
	Branch      string
	Path        string
	// Account owns the repository the document currently lives in. It
	// differs from Owner after a fork.
	Account     string
	ContentHash string
	HeadCommit  string
	Baseline    string
	OpenedAt    time.Time
	UpdatedAt   time.Time
}

// Store keeps session records and the commit message history in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// OpenStore opens or creates the database at path. ":memory:" keeps
// everything in memory.
func OpenStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection, so an in-memory database is shared by every query
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		working_path TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		repo TEXT NOT NULL,
		branch TEXT NOT NULL,
		path TEXT NOT NULL,
		account TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		head_commit TEXT NOT NULL,
		baseline TEXT NOT NULL,
		opened_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS commit_messages (
		message TEXT PRIMARY KEY,
		seq INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_commit_messages_seq ON commit_messages(seq);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts or replaces the record for r.WorkingPath.
func (s *Store) Save(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions
		(working_path, owner, repo, branch, path, account, content_hash,
		 head_commit, baseline, opened_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.WorkingPath, r.Owner, r.Repo, r.Branch, r.Path, r.Account, r.ContentHash,
		r.HeadCommit, r.Baseline, r.OpenedAt.UnixMilli(), r.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", r.WorkingPath, err)
	}
	return nil
}

const selectRecord = `
	SELECT working_path, owner, repo, branch, path, account, content_hash,
	       head_commit, baseline, opened_at, updated_at
	FROM sessions`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var r Record
	var opened, updated int64
	err := row.Scan(&r.WorkingPath, &r.Owner, &r.Repo, &r.Branch, &r.Path, &r.Account,
		&r.ContentHash, &r.HeadCommit, &r.Baseline, &opened, &updated)
	if err != nil {
		return Record{}, err
	}
	r.OpenedAt, r.UpdatedAt = time.UnixMilli(opened), time.UnixMilli(updated)
	return r, nil
}

func (s *Store) Load(ctx context.Context, workingPath string) (Record, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, selectRecord+" WHERE working_path = ?", workingPath))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrSessionNotFound, workingPath)
	}
	if err != nil {
		return Record{}, fmt.Errorf("load session %s: %w", workingPath, err)
	}
	return r, nil
}

// List returns every record, most recently updated first.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, selectRecord+" ORDER BY updated_at DESC, working_path")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, workingPath string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE working_path = ?", workingPath)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", workingPath, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, workingPath)
	}
	return nil
}

// RecordMessage moves message to the front of the history and drops the
// oldest entries beyond limit.
func (s *Store) RecordMessage(ctx context.Context, message string, limit int) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil
	}
	if limit <= 0 {
		limit = DefaultHistorySize
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO commit_messages (message, seq)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM commit_messages))`, message); err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM commit_messages WHERE message NOT IN
		(SELECT message FROM commit_messages ORDER BY seq DESC LIMIT ?)`, limit); err != nil {
		return fmt.Errorf("trim message history: %w", err)
	}
	return tx.Commit()
}

// Messages returns up to limit messages, most recent first.
func (s *Store) Messages(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = DefaultHistorySize
	}
	rows, err := s.db.QueryContext(ctx, "SELECT message FROM commit_messages ORDER BY seq DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("read message history: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("read message history: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
