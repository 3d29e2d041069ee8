package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const kvSchema = `CREATE TABLE IF NOT EXISTS kv (
	area  TEXT NOT NULL,
	key   TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (area, key)
)`

// SQLiteStore keeps each area as rows of one kv table. Every batch is one
// transaction.
type SQLiteStore struct {
	db   *sql.DB
	area Area
	own  bool
}

// OpenSQLite opens (creating if needed) the database at path and returns the
// store for area. Use ":memory:" for a throwaway database.
func OpenSQLite(path string, area Area) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("sqlite store: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite store: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(kvSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: schema: %w", err)
	}

	return &SQLiteStore{db: db, area: area, own: true}, nil
}

// Area returns a store for another area sharing the same database.
func (s *SQLiteStore) Area(area Area) *SQLiteStore {
	return &SQLiteStore{db: s.db, area: area}
}

// Get implements Store.
func (s *SQLiteStore) Get(key string, v any) (bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE area = ? AND key = ?`, string(s.area), key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite store: get %q: %w", key, err)
	}
	if err := decodeValue(key, []byte(raw), v); err != nil {
		return false, err
	}
	return true, nil
}

// Set implements Store.
func (s *SQLiteStore) Set(values map[string]any) error {
	encoded, err := encodeValues(values)
	if err != nil {
		return err
	}

	return s.runTx(func(tx *sql.Tx) error {
		for key, raw := range encoded {
			if _, err := tx.Exec(
				`INSERT INTO kv (area, key, value) VALUES (?, ?, ?)
				 ON CONFLICT(area, key) DO UPDATE SET value = excluded.value`,
				string(s.area), key, string(raw),
			); err != nil {
				return fmt.Errorf("sqlite store: set %q: %w", key, err)
			}
		}
		return nil
	})
}

// Remove implements Store.
func (s *SQLiteStore) Remove(keys ...string) error {
	return s.runTx(func(tx *sql.Tx) error {
		for _, key := range keys {
			if _, err := tx.Exec(`DELETE FROM kv WHERE area = ? AND key = ?`, string(s.area), key); err != nil {
				return fmt.Errorf("sqlite store: remove %q: %w", key, err)
			}
		}
		return nil
	})
}

// Close closes the database if this store opened it.
func (s *SQLiteStore) Close() error {
	if !s.own {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) runTx(fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("sqlite store: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite store: commit: %w", err)
	}
	return nil
}
