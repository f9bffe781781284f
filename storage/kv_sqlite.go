package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteKV stores values in a database file that lives only as long as the
// process. Close deletes the file, which ends the session.
type SQLiteKV struct {
	db   *sql.DB
	path string

	closeOnce sync.Once
}

func NewSQLiteKV(dir string) (*SQLiteKV, error) {
	// 0700 - user-only access, history is private
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	name := fmt.Sprintf("session-%d-%s.db", os.Getpid(), uuid.NewString()[:8])
	dbPath := filepath.Join(dir, name)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	kv := &SQLiteKV{db: db, path: dbPath}

	if err := kv.initialize(); err != nil {
		kv.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return kv, nil
}

func (kv *SQLiteKV) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := kv.db.Exec(schema)
	return err
}

func (kv *SQLiteKV) Path() string {
	return kv.path
}

func (kv *SQLiteKV) Get(key string) (string, bool, error) {
	var value string
	err := kv.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %q: %w", key, err)
	}
	return value, true, nil
}

func (kv *SQLiteKV) Set(key, value string) error {
	query := `
	INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := kv.db.Exec(query, key, value); err != nil {
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	return nil
}

func (kv *SQLiteKV) Remove(key string) error {
	if _, err := kv.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to remove %q: %w", key, err)
	}
	return nil
}

// Close closes the database and removes its files.
func (kv *SQLiteKV) Close() error {
	var closeErr error
	kv.closeOnce.Do(func() {
		if kv.db != nil {
			closeErr = kv.db.Close()
		}
		for _, suffix := range []string{"", "-journal", "-wal", "-shm"} {
			err := os.Remove(kv.path + suffix)
			if err != nil && !os.IsNotExist(err) && closeErr == nil {
				closeErr = fmt.Errorf("failed to remove session database: %w", err)
			}
		}
	})
	return closeErr
}
