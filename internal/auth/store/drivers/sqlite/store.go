package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/prayerwall/internal/auth/store"
	_ "modernc.org/sqlite"
)

var _ store.KV = (*Store)(nil)

type Store struct {
	db  *sql.DB
	dsn string
}

func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// One connection, otherwise every ":memory:" connection is its own database.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), `PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{
		db:  db,
		dsn: dsn,
	}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const (
	getItemQuery    = `SELECT value FROM kv_items WHERE key = ?`
	setItemQuery    = `INSERT INTO kv_items (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	removeItemQuery = `DELETE FROM kv_items WHERE key = ?`
)

func (s *Store) GetItem(ctx context.Context, key string) (string, error) {
	var value string
	if err := s.db.QueryRowContext(ctx, getItemQuery, key).Scan(&value); err != nil {
		return "", mapNotFound(err)
	}
	return value, nil
}

func (s *Store) SetItem(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, setItemQuery, key, value); err != nil {
		return fmt.Errorf("sqlite: set %q: %w", key, err)
	}
	return nil
}

func (s *Store) RemoveItem(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, removeItemQuery, key); err != nil {
		return fmt.Errorf("sqlite: remove %q: %w", key, err)
	}
	return nil
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
