package cache

import (
	"context"
	"database/sql"
	"sync"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"
)

type sqliteStorage struct {
	db   *sql.DB
	cfg  config
	once sync.Once
}

var _ Storage = (*sqliteStorage)(nil)

// NewSQLiteStorage returns a Storage backed by SQLite.
// If dbPath is empty or ":memory:", an in-memory database is used.
func NewSQLiteStorage(ctx context.Context, dbPath string, opts ...Option) (Storage, error) {
	cfg := applyOptions(opts)
	inMemory := dbPath == "" || dbPath == ":memory:"
	if inMemory {
		dbPath = ":memory:"
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrapf(err, "cache: failed to open sqlite database %q", dbPath)
	}
	if inMemory {
		// every connection to :memory: would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "cache: failed to enable WAL")
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "cache: failed to create kv table")
	}

	return &sqliteStorage{db: db, cfg: cfg}, nil
}

func (s *sqliteStorage) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.cfg.queryTimeout)
}

func (s *sqliteStorage) GetItem(ctx context.Context, key string) (string, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	var value string
	err := s.db.QueryRowContext(qctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", errors.Wrapf(err, "cache: failed to read %q", key)
	}
	return value, nil
}

func (s *sqliteStorage) SetItem(ctx context.Context, key string, value string) error {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	_, err := s.db.ExecContext(qctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return errors.Wrapf(err, "cache: failed to write %q", key)
	}
	return nil
}

func (s *sqliteStorage) RemoveItem(ctx context.Context, key string) error {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(qctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return errors.Wrapf(err, "cache: failed to remove %q", key)
	}
	return nil
}

func (s *sqliteStorage) MultiRemove(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	tx, err := s.db.BeginTx(qctx, nil)
	if err != nil {
		return errors.Wrap(err, "cache: failed to begin transaction")
	}
	stmt, err := tx.PrepareContext(qctx, `DELETE FROM kv WHERE key = ?`)
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "cache: failed to prepare delete")
	}
	defer stmt.Close()
	for _, key := range keys {
		if _, err := stmt.ExecContext(qctx, key); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "cache: failed to remove %q", key)
		}
	}
	return errors.Wrap(tx.Commit(), "cache: failed to commit removal")
}

func (s *sqliteStorage) GetAllKeys(ctx context.Context) ([]string, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(qctx, `SELECT key FROM kv ORDER BY key`)
	if err != nil {
		return nil, errors.Wrap(err, "cache: failed to list keys")
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errors.Wrap(err, "cache: failed to scan key")
		}
		keys = append(keys, key)
	}
	return keys, errors.Wrap(rows.Err(), "cache: failed to list keys")
}

func (s *sqliteStorage) Close() error {
	var dbErr error
	s.once.Do(func() {
		dbErr = s.db.Close()
	})
	return dbErr
}
