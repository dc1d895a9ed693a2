package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/zap"

	"github.com/chordbook/chordsync/internal/logging"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS generations (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	generation TEXT NOT NULL,
	key TEXT NOT NULL,
	status INTEGER NOT NULL,
	header TEXT NOT NULL DEFAULT '{}',
	body BLOB,
	stored_at INTEGER NOT NULL,
	PRIMARY KEY (generation, key)
);
`

// SQLite keeps generations in a local database file.
type SQLite struct {
	conn   *sql.DB
	logger *zap.Logger

	closeOnce sync.Once
}

// OpenSQLite opens (creating if needed) the cache database at path.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("cache database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	if _, err := conn.ExecContext(ctx, sqliteSchema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}

	return &SQLite{conn: conn, logger: logging.OrNop(logger).Named("cache")}, nil
}

// Keys implements Backend.
func (s *SQLite) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT name FROM generations ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan generation: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Has implements Backend.
func (s *SQLite) Has(ctx context.Context, gen string) (bool, error) {
	var n int
	err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM generations WHERE name = ?", gen).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up generation %s: %w", gen, err)
	}
	return n > 0, nil
}

// Open implements Backend.
func (s *SQLite) Open(ctx context.Context, gen string) error {
	_, err := s.conn.ExecContext(ctx,
		"INSERT INTO generations (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING",
		gen, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to open generation %s: %w", gen, err)
	}
	return nil
}

// Delete implements Backend.
func (s *SQLite) Delete(ctx context.Context, gen string) (bool, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM generations WHERE name = ?", gen)
	if err != nil {
		return false, fmt.Errorf("failed to delete generation %s: %w", gen, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE generation = ?", gen); err != nil {
		return false, fmt.Errorf("failed to delete entries of %s: %w", gen, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Put implements Backend.
func (s *SQLite) Put(ctx context.Context, gen, key string, e *Entry) error {
	ok, err := s.Has(ctx, gen)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoGeneration, gen)
	}

	header, err := json.Marshal(e.Header)
	if err != nil {
		return fmt.Errorf("failed to encode header: %w", err)
	}
	storedAt := e.StoredAt
	if storedAt == 0 {
		storedAt = time.Now().UnixMilli()
	}

	_, err = s.conn.ExecContext(ctx, `
	INSERT INTO entries (generation, key, status, header, body, stored_at) VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(generation, key) DO UPDATE SET
		status = excluded.status,
		header = excluded.header,
		body = excluded.body,
		stored_at = excluded.stored_at
	`, gen, key, e.Status, string(header), e.Body, storedAt)
	if err != nil {
		return fmt.Errorf("failed to store %s in %s: %w", key, gen, err)
	}
	return nil
}

// Match implements Backend.
func (s *SQLite) Match(ctx context.Context, gen, key string) (*Entry, bool, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT status, header, body, stored_at FROM entries WHERE generation = ? AND key = ?", gen, key)
	return scanEntry(row)
}

// MatchAny implements Backend.
func (s *SQLite) MatchAny(ctx context.Context, key string) (*Entry, bool, error) {
	row := s.conn.QueryRowContext(ctx, `
	SELECT e.status, e.header, e.body, e.stored_at
	FROM entries e JOIN generations g ON g.name = e.generation
	WHERE e.key = ?
	ORDER BY g.seq
	LIMIT 1
	`, key)
	return scanEntry(row)
}

func scanEntry(row *sql.Row) (*Entry, bool, error) {
	var e Entry
	var header string
	err := row.Scan(&e.Status, &header, &e.Body, &e.StoredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	if header != "" && header != "null" {
		if err := json.Unmarshal([]byte(header), &e.Header); err != nil {
			return nil, false, fmt.Errorf("failed to decode cached header: %w", err)
		}
	}
	return &e, true, nil
}

// Entries implements Backend.
func (s *SQLite) Entries(ctx context.Context, gen string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT key FROM entries WHERE generation = ? ORDER BY key", gen)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries of %s: %w", gen, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan entry key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Close implements Backend.
func (s *SQLite) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}
