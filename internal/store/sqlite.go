package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ngalo-coder/simclient/internal/domain"
	"github.com/ngalo-coder/simclient/internal/shared"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writes to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets the renderer read while a bookmark is being written.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS bookmarks (
		path TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		return_path TEXT,
		tag TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_bookmarks_updated ON bookmarks(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetValue returns the value stored under key.
func (s *SQLiteStore) GetValue(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get value %q: %w", key, err)
	}
	return value, nil
}

// PutValue stores value under key.
func (s *SQLiteStore) PutValue(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at`

	return s.write(ctx, "put value", func() error {
		if _, err := s.db.ExecContext(ctx, query, key, value, time.Now().Unix()); err != nil {
			return fmt.Errorf("put value %q: %w", key, err)
		}
		return nil
	})
}

// DeleteValue removes key.
func (s *SQLiteStore) DeleteValue(ctx context.Context, key string) error {
	return s.write(ctx, "delete value", func() error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
			return fmt.Errorf("delete value %q: %w", key, err)
		}
		return nil
	})
}

// SaveBookmark creates or updates a bookmark. CreatedAt is kept from the first save.
func (s *SQLiteStore) SaveBookmark(ctx context.Context, b domain.Bookmark) error {
	query := `
	INSERT INTO bookmarks (path, title, return_path, tag, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(path) DO UPDATE SET
		title = excluded.title,
		return_path = excluded.return_path,
		tag = excluded.tag,
		updated_at = excluded.updated_at`

	now := time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = now
	}

	return s.write(ctx, "save bookmark", func() error {
		_, err := s.db.ExecContext(ctx, query,
			b.Path, b.Title, nullable(b.Nav.ReturnPath), nullable(b.Nav.Tag),
			b.CreatedAt.Unix(), b.UpdatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("save bookmark: %w", err)
		}
		return nil
	})
}

// GetBookmark returns the bookmark for path, or nil when absent.
func (s *SQLiteStore) GetBookmark(ctx context.Context, path string) (*domain.Bookmark, error) {
	query := `
		SELECT path, title, return_path, tag, created_at, updated_at
		FROM bookmarks WHERE path = ?`

	var b domain.Bookmark
	var returnPath, tag sql.NullString
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, path).Scan(
		&b.Path, &b.Title, &returnPath, &tag, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan bookmark row: %w", err)
	}

	b.Nav = domain.NavigationContext{ReturnPath: returnPath.String, Tag: tag.String}
	b.CreatedAt = time.Unix(createdAt, 0)
	b.UpdatedAt = time.Unix(updatedAt, 0)
	return &b, nil
}

// PruneBookmarks removes bookmarks not updated within ttl.
func (s *SQLiteStore) PruneBookmarks(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	var n int64
	err := s.write(ctx, "prune bookmarks", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM bookmarks WHERE updated_at < ?`, threshold)
		if err != nil {
			return fmt.Errorf("prune bookmarks: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

func (s *SQLiteStore) write(ctx context.Context, op string, fn func() error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return shared.RetryOnConflict(ctx, op, fn)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

var _ Repository = (*SQLiteStore)(nil)
