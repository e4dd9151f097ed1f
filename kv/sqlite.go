package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteKVStore keeps values in a single kv table.
type SQLiteKVStore struct {
	db *sql.DB
}

var _ KVStore = (*SQLiteKVStore)(nil)

// OpenSQLiteKVStore opens (or creates) the database at path. Use ":memory:"
// for a throwaway store.
func OpenSQLiteKVStore(path string) (*SQLiteKVStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A second connection to ":memory:" would see a different database.
	db.SetMaxOpenConns(1)
	store, err := NewSQLiteKVStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteKVStore initializes the schema in db.
func NewSQLiteKVStore(db *sql.DB) (*SQLiteKVStore, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL
		);`,
	)
	if err != nil {
		return nil, fmt.Errorf("init kv schema: %w", err)
	}
	return &SQLiteKVStore{db: db}, nil
}

func (s *SQLiteKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *SQLiteKVStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

func (s *SQLiteKVStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

func (s *SQLiteKVStore) Close() error {
	return s.db.Close()
}
