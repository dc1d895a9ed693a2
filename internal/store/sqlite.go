package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/zap"

	"github.com/chordbook/chordsync/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type migration struct {
	version int
	name    string
}

// migrations returns the embedded migrations ordered by version. File names
// are <version>_<description>.sql.
func migrations() ([]migration, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	var out []migration
	for _, e := range entries {
		prefix, _, ok := strings.Cut(e.Name(), "_")
		if !ok {
			continue
		}
		v, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("invalid migration name %q: %w", e.Name(), err)
		}
		out = append(out, migration{version: v, name: e.Name()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// SchemaVersion is the version a freshly migrated database reports.
func SchemaVersion() int {
	ms, err := migrations()
	if err != nil || len(ms) == 0 {
		return 0
	}
	return ms[len(ms)-1].version
}

// SQLite is the embedded database implementation of Store.
type SQLite struct {
	conn    *sql.DB
	path    string
	version int
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// Open opens (creating if needed) the database at path and applies any
// pending migrations. The caller must Close the store.
func Open(ctx context.Context, path string, logger *zap.Logger) (*SQLite, error) {
	logger = logging.OrNop(logger).Named("store")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &SQLite{conn: conn, path: path, logger: logger}

	if err := s.migrate(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	logger.Debug("store ready", zap.String("path", path), zap.Int("version", s.version))
	return s, nil
}

// migrate applies every embedded migration newer than PRAGMA user_version.
// Migrations only add tables, so data in existing collections survives.
func (s *SQLite) migrate(ctx context.Context) error {
	var current int
	if err := s.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	ms, err := migrations()
	if err != nil {
		return err
	}

	for _, m := range ms {
		if m.version <= current {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return err
		}
		current = m.version
	}

	s.version = current
	return nil
}

func (s *SQLite) applyMigration(ctx context.Context, m migration) error {
	body, err := fs.ReadFile(migrationsFS, "migrations/"+m.name)
	if err != nil {
		return fmt.Errorf("failed to read migration %d: %w", m.version, err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration %d: %w", m.version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return fmt.Errorf("failed to apply migration %d: %w", m.version, err)
	}
	// PRAGMA cannot be parameterized.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return fmt.Errorf("failed to stamp schema version %d: %w", m.version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
	}

	s.logger.Info("applied migration", zap.Int("version", m.version), zap.String("file", m.name))
	return nil
}

// Version returns the applied schema version.
func (s *SQLite) Version() int {
	return s.version
}

// Path returns the database file path.
func (s *SQLite) Path() string {
	return s.path
}

// Close checkpoints the WAL and closes the database.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Warn("failed to checkpoint WAL", zap.Error(err))
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// table resolves c and fails if the store is closed. The caller must hold
// s.mu for reading.
func (s *SQLite) table(c Collection) (string, error) {
	if s.closed {
		return "", ErrClosed
	}
	t, ok := tables[c]
	if !ok {
		return "", unknownCollection(c)
	}
	return t, nil
}

// Get implements Store.
func (s *SQLite) Get(ctx context.Context, c Collection, key string) (json.RawMessage, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.table(c)
	if err != nil {
		return nil, false, err
	}

	var value string
	err = s.conn.QueryRowContext(ctx, "SELECT value FROM "+t+" WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s/%s: %w", c, key, err)
	}
	return json.RawMessage(value), true, nil
}

// GetAll implements Store.
func (s *SQLite) GetAll(ctx context.Context, c Collection) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.table(c)
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.QueryContext(ctx,
		"SELECT key, value FROM "+t+" ORDER BY CAST(key AS INTEGER), key")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", c, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", c, err)
		}
		records = append(records, Record{Key: key, Value: json.RawMessage(value)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", c, err)
	}
	return records, nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func put(ctx context.Context, e execer, c Collection, t, key string, value json.RawMessage) (string, error) {
	now := time.Now().UnixMilli()

	if c.AutoKey() {
		res, err := e.ExecContext(ctx,
			"INSERT INTO "+t+" (value, updated_at) VALUES (?, ?)", string(value), now)
		if err != nil {
			return "", fmt.Errorf("failed to append to %s: %w", c, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return "", fmt.Errorf("failed to read assigned key in %s: %w", c, err)
		}
		return strconv.FormatInt(id, 10), nil
	}

	if key == "" {
		return "", fmt.Errorf("key is required for %s", c)
	}
	_, err := e.ExecContext(ctx, `
	INSERT INTO `+t+` (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`, key, string(value), now)
	if err != nil {
		return "", fmt.Errorf("failed to put %s/%s: %w", c, key, err)
	}
	return key, nil
}

// Put implements Store.
func (s *SQLite) Put(ctx context.Context, c Collection, key string, value json.RawMessage) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.table(c)
	if err != nil {
		return "", err
	}
	return put(ctx, s.conn, c, t, key, value)
}

// PutMany implements Store.
func (s *SQLite) PutMany(ctx context.Context, c Collection, records []Record) error {
	return s.ReplaceMany(ctx, c, nil, records)
}

// ReplaceMany implements Store.
func (s *SQLite) ReplaceMany(ctx context.Context, c Collection, deleteKeys []string, records []Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.table(c)
	if err != nil {
		return err
	}
	if len(deleteKeys) == 0 && len(records) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, key := range deleteKeys {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+t+" WHERE key = ?", key); err != nil {
			return fmt.Errorf("failed to delete %s/%s: %w", c, key, err)
		}
	}
	for _, r := range records {
		if _, err := put(ctx, tx, c, t, r.Key, r.Value); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLite) Delete(ctx context.Context, c Collection, key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.table(c)
	if err != nil {
		return err
	}
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM "+t+" WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", c, key, err)
	}
	return nil
}

// Clear implements Store.
func (s *SQLite) Clear(ctx context.Context, c Collection) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.table(c)
	if err != nil {
		return err
	}
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM "+t); err != nil {
		return fmt.Errorf("failed to clear %s: %w", c, err)
	}
	return nil
}

// Count implements Store.
func (s *SQLite) Count(ctx context.Context, c Collection) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.table(c)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", c, err)
	}
	return n, nil
}
