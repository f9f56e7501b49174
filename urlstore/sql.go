package urlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	// sqlite3 driver used by OpenSQLite
	_ "github.com/mattn/go-sqlite3"
)

const createUploadsTable = `CREATE TABLE IF NOT EXISTS tus_uploads (
	fingerprint TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// SQL is a Store kept in a tus_uploads table. Queries are written for SQLite
// and PostgreSQL.
type SQL struct {
	db *sqlx.DB
}

// OpenSQLite opens (or creates) the SQLite database at path.
func OpenSQLite(ctx context.Context, path string) (*SQL, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store %s: %w", path, err)
	}
	// sqlite does not support concurrent writers
	db.SetMaxOpenConns(1)

	store, err := NewSQL(ctx, db)
	if err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return store, nil
}

// NewSQL creates the table if needed.
func NewSQL(ctx context.Context, db *sqlx.DB) (*SQL, error) {
	if _, err := db.ExecContext(ctx, createUploadsTable); err != nil {
		return nil, fmt.Errorf("create uploads table: %w", err)
	}
	return &SQL{db: db}, nil
}

// Get ...
func (s *SQL) Get(ctx context.Context, fingerprint string) (string, bool, error) {
	var url string
	err := s.db.GetContext(ctx, &url, s.db.Rebind(`SELECT url FROM tus_uploads WHERE fingerprint = ?`), fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query upload url: %w", err)
	}
	return url, true, nil
}

// Set ...
func (s *SQL) Set(ctx context.Context, fingerprint, url string) error {
	query := s.db.Rebind(`INSERT INTO tus_uploads (fingerprint, url, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (fingerprint) DO UPDATE SET url = excluded.url, updated_at = excluded.updated_at`)
	if _, err := s.db.ExecContext(ctx, query, fingerprint, url); err != nil {
		return fmt.Errorf("store upload url: %w", err)
	}
	return nil
}

// Delete ...
func (s *SQL) Delete(ctx context.Context, fingerprint string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM tus_uploads WHERE fingerprint = ?`), fingerprint); err != nil {
		return fmt.Errorf("delete upload url: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQL) Close() error {
	return s.db.Close()
}
