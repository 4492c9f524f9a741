package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps documents and configuration in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps writes serialized and lets ":memory:" behave as a single database.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			collection TEXT NOT NULL,
			key TEXT NOT NULL,
			body BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE(collection, key)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection, seq);`,
		`CREATE TABLE IF NOT EXISTS configuration (
			key TEXT PRIMARY KEY,
			value TEXT
		);`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Document Implementation

func (s *SQLiteStore) Append(ctx context.Context, collection, key string, body []byte) error {
	now := time.Now().UnixNano()
	query := `INSERT INTO documents (collection, key, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection, key) DO NOTHING`
	res, err := s.db.ExecContext(ctx, query, collection, key, body, now, now)
	if err != nil {
		return fmt.Errorf("append %s/%s: %w", collection, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("append %s/%s: %w", collection, key, err)
	}
	if n == 0 {
		return fmt.Errorf("append %s/%s: %w", collection, key, ErrExists)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, collection, key string) ([]byte, error) {
	query := `SELECT body FROM documents WHERE collection = ? AND key = ?`
	var body []byte
	if err := s.db.QueryRowContext(ctx, query, collection, key).Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get %s/%s: %w", collection, key, ErrNotFound)
		}
		return nil, fmt.Errorf("get %s/%s: %w", collection, key, err)
	}
	return body, nil
}

func (s *SQLiteStore) Update(ctx context.Context, collection, key string, body []byte) error {
	now := time.Now().UnixNano()
	query := `INSERT INTO documents (collection, key, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection, key) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, collection, key, body, now, now); err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, collection, key string) error {
	query := `DELETE FROM documents WHERE collection = ? AND key = ?`
	if _, err := s.db.ExecContext(ctx, query, collection, key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, key, err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, collection string) ([]Document, error) {
	query := `SELECT key, body, created_at, updated_at FROM documents WHERE collection = ? ORDER BY seq`
	rows, err := s.db.QueryContext(ctx, query, collection)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var created, updated int64
		if err := rows.Scan(&d.Key, &d.Body, &created, &updated); err != nil {
			return nil, fmt.Errorf("list %s: %w", collection, err)
		}
		d.Collection = collection
		d.CreatedAt = time.Unix(0, created)
		d.UpdatedAt = time.Unix(0, updated)
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	return docs, nil
}

// Configuration Implementation

func (s *SQLiteStore) SetConfig(key, value string) error {
	query := `INSERT INTO configuration (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	_, err := s.db.Exec(query, key, value)
	return err
}

func (s *SQLiteStore) GetConfig(key string) (string, error) {
	query := `SELECT value FROM configuration WHERE key = ?`
	var value string
	if err := s.db.QueryRow(query, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

func (s *SQLiteStore) ListConfig() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM configuration ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}
