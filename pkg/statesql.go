package dupwalk

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

const stateSchema = `
CREATE TABLE IF NOT EXISTS fingerprints (
	seq      INTEGER PRIMARY KEY,
	path     TEXT    NOT NULL UNIQUE,
	digest   BLOB    NOT NULL,
	computed INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

// SQLiteBackend keeps the forward map in stateDir/hashes.db
type SQLiteBackend struct {
	db       *sql.DB
	path     string
	hashType uint16
}

// OpenSQLiteBackend opens (or creates) the state database
func OpenSQLiteBackend(stateDir string, hashType uint16) (*SQLiteBackend, error) {
	dbPath := filepath.Join(stateDir, StateDB)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(stateSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init state schema: %w", err)
	}

	return &SQLiteBackend{db: db, path: dbPath, hashType: hashType}, nil
}

// Path returns the database location
func (b *SQLiteBackend) Path() string { return b.path }

// Save replaces the table contents in one transaction, preserving entry order in seq
func (b *SQLiteBackend) Save(entries []Entry) (err error) {
	ctx := context.Background()
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin state save: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM fingerprints"); err != nil {
		return fmt.Errorf("clear fingerprints: %w", err)
	}
	if _, err = tx.ExecContext(ctx,
		"INSERT INTO meta(key, value) VALUES('hash_type', ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		strconv.Itoa(int(b.hashType))); err != nil {
		return fmt.Errorf("record hash type: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO fingerprints(seq, path, digest, computed) VALUES(?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range entries {
		if _, err = stmt.ExecContext(ctx, i, e.Path, e.Fingerprint.Digest[:], e.Fingerprint.Computed.UnixNano()); err != nil {
			return fmt.Errorf("insert %s: %w", e.Path, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit state save: %w", err)
	}
	VerboseLog(2, "saved %d entries to %s", len(entries), b.path)
	return nil
}

// Load returns the stored entries in save order
func (b *SQLiteBackend) Load() ([]Entry, error) {
	ctx := context.Background()

	var stored string
	err := b.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'hash_type'").Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if stored != strconv.Itoa(int(b.hashType)) {
		return nil, fmt.Errorf("%w: state holds hash type %s, run uses %s", ErrSerialization, stored, HashTypeName(b.hashType))
	}

	rows, err := b.db.QueryContext(ctx, "SELECT path, digest, computed FROM fingerprints ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			path     string
			digest   []byte
			computed int64
		)
		if err := rows.Scan(&path, &digest, &computed); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
		}
		if len(digest) != DigestSize {
			return nil, fmt.Errorf("%w: %s has a %d-byte digest", ErrSerialization, path, len(digest))
		}
		entries = append(entries, Entry{Path: path, Fingerprint: NewFingerprint(digest, time.Unix(0, computed))})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return entries, nil
}

// Close closes the underlying database connection.
func (b *SQLiteBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
