package blobstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/illmade-knight/go-blobcache/pkg/blobcache"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var sqliteSchema string

// SQLiteMemoryPath selects a private in-memory database that lives as long as
// the store.
const SQLiteMemoryPath = ":memory:"

// SQLiteConfig holds the configuration for a SQLite-backed store.
type SQLiteConfig struct {
	Path string `env:"PATH"`
}

// SQLiteStore persists blobs in a single SQLite table. Times are stored as
// unix nanoseconds; a NULL expires_at never expires.
type SQLiteStore struct {
	db     *sql.DB
	clock  blobcache.Clock
	logger zerolog.Logger
}

// NewSQLiteStore opens (creating if needed) the database at cfg.Path and
// applies the schema. SQLiteMemoryPath keeps the database in memory.
func NewSQLiteStore(ctx context.Context, cfg *SQLiteConfig, logger zerolog.Logger, opts ...Option) (*SQLiteStore, error) {
	if cfg == nil || strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	inMemory := cfg.Path == SQLiteMemoryPath
	dsn := SQLiteMemoryPath + "?_pragma=busy_timeout(5000)"
	if !inMemory {
		dsn = filepath.Clean(cfg.Path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if inMemory {
		// Every connection to :memory: opens its own empty database.
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	logger.Info().Str("path", cfg.Path).Msg("SQLite blob store opened.")
	return &SQLiteStore{
		db:     db,
		clock:  o.clock,
		logger: logger.With().Str("component", "SQLiteStore").Logger(),
	}, nil
}

// Insert implements blobcache.BlobStore.
func (s *SQLiteStore) Insert(ctx context.Context, key string, data []byte, expiresAt time.Time) error {
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blob_entries (key, data, created_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   data = excluded.data,
		   created_at = excluded.created_at,
		   expires_at = excluded.expires_at`,
		key, data, s.clock.Now().UnixNano(), nullableNanos(expiresAt),
	)
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to insert blob.")
		return fmt.Errorf("sqlite insert for %s: %w", key, err)
	}
	return nil
}

// Get implements blobcache.BlobStore.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM blob_entries
		 WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		key, s.clock.Now().UnixNano(),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, blobcache.NotFound(key)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get for %s: %w", key, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// GetCreatedAt implements blobcache.BlobStore.
func (s *SQLiteStore) GetCreatedAt(ctx context.Context, key string) (time.Time, bool, error) {
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at FROM blob_entries
		 WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		key, s.clock.Now().UnixNano(),
	).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("sqlite created_at for %s: %w", key, err)
	}
	return time.Unix(0, createdAt).UTC(), true, nil
}

// Invalidate implements blobcache.BlobStore.
func (s *SQLiteStore) Invalidate(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blob_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlite delete for %s: %w", key, err)
	}
	return nil
}

// InvalidateAll implements blobcache.BlobStore.
func (s *SQLiteStore) InvalidateAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blob_entries`); err != nil {
		return fmt.Errorf("sqlite delete all: %w", err)
	}
	return nil
}

// Vacuum deletes expired rows and then compacts the database file.
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM blob_entries WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		s.clock.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite purge expired: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("sqlite vacuum: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		s.logger.Debug().Int64("purged", n).Msg("Vacuum complete.")
	}
	return nil
}

// Clock implements blobcache.BlobStore.
func (s *SQLiteStore) Clock() blobcache.Clock { return s.clock }

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.logger.Info().Msg("Closing SQLite blob store.")
	return s.db.Close()
}

func nullableNanos(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}
