// Package sqlitestore persists encrypted vault entries in a single-file
// SQLite database. One file backs the whole vault so rotation can swap every
// entry inside a single transaction.
package sqlitestore

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	apperrors "github.com/kinvo/easyinventory/internal/errors"
	"github.com/kinvo/easyinventory/vault/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS vault_entries (
	key        TEXT PRIMARY KEY,
	ciphertext BLOB NOT NULL,
	version    INTEGER NOT NULL
);
`

// Store implements storage.Store over SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if necessary) the vault database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("[sqlitestore.Open] storage path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "[sqlitestore.Open] open database")
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "[sqlitestore.Open] ping database")
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "[sqlitestore.Open] create schema")
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get retrieves an entry by key.
func (s *Store) Get(ctx context.Context, key string) (storage.Entry, error) {
	entry := storage.Entry{Key: key}
	row := s.db.QueryRowContext(ctx,
		`SELECT ciphertext, version FROM vault_entries WHERE key = ?`, key)
	if err := row.Scan(&entry.Ciphertext, &entry.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Entry{}, apperrors.ErrNotFound
		}
		return storage.Entry{}, errors.Wrap(err, "[sqlitestore.Get] scan entry")
	}
	return entry, nil
}

// Put stores or replaces an entry.
func (s *Store) Put(ctx context.Context, entry storage.Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vault_entries (key, ciphertext, version) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET ciphertext = excluded.ciphertext, version = excluded.version`,
		entry.Key, entry.Ciphertext, entry.Version)
	return errors.Wrap(err, "[sqlitestore.Put] upsert entry")
}

// Delete removes an entry. Deleting a missing key is a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM vault_entries WHERE key = ?`, key)
	return errors.Wrap(err, "[sqlitestore.Delete] delete entry")
}

// List returns every stored entry.
func (s *Store) List(ctx context.Context) ([]storage.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, ciphertext, version FROM vault_entries`)
	if err != nil {
		return nil, errors.Wrap(err, "[sqlitestore.List] query entries")
	}
	defer rows.Close()

	var out []storage.Entry
	for rows.Next() {
		var entry storage.Entry
		if err := rows.Scan(&entry.Key, &entry.Ciphertext, &entry.Version); err != nil {
			return nil, errors.Wrap(err, "[sqlitestore.List] scan entry")
		}
		out = append(out, entry)
	}
	return out, errors.Wrap(rows.Err(), "[sqlitestore.List] iterate entries")
}

// ReplaceAll swaps the full entry set inside one transaction. Either every
// entry is replaced or the previous set remains readable.
func (s *Store) ReplaceAll(ctx context.Context, entries []storage.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "[sqlitestore.ReplaceAll] begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM vault_entries`); err != nil {
		return errors.Wrap(err, "[sqlitestore.ReplaceAll] clear entries")
	}
	for _, entry := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO vault_entries (key, ciphertext, version) VALUES (?, ?, ?)`,
			entry.Key, entry.Ciphertext, entry.Version); err != nil {
			return errors.Wrap(err, "[sqlitestore.ReplaceAll] insert entry")
		}
	}

	return errors.Wrap(tx.Commit(), "[sqlitestore.ReplaceAll] commit")
}

var _ storage.Store = (*Store)(nil)
