package store

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"

	"github.com/oebus/hvac-plant/internal/xerr"
)

// SQLiteStore persists blobs in a single key/version/blob table,
// grounded on the teacher's db.InitializeIfMissing/SeedDatabase
// pattern (touch-file-then-seed) but with one generic table instead of
// the teacher's per-entity schema, since this store's callers only
// ever need opaque versioned blobs.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) a sqlite3 database at
// path and ensures the blob table exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, xerr.Wrap(xerr.StoreIO, "open sqlite store", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS blobs (
		key TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		data BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, xerr.Wrap(xerr.StoreIO, "create blobs table", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Dump writes data under key, tagged with version, replacing any prior row.
func (s *SQLiteStore) Dump(key string, version uint32, data []byte) error {
	_, err := s.db.Exec(`INSERT INTO blobs (key, version, data) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET version = excluded.version, data = excluded.data`,
		key, version, data)
	if err != nil {
		return xerr.Wrap(xerr.StoreIO, "dump blob", err)
	}
	return nil
}

// Fetch reads the blob stored under key. If its persisted version
// does not equal outVersion, ErrVersionMismatch is returned.
func (s *SQLiteStore) Fetch(key string, outVersion uint32) ([]byte, error) {
	var version uint32
	var data []byte
	err := s.db.QueryRow(`SELECT version, data FROM blobs WHERE key = ?`, key).Scan(&version, &data)
	if err == sql.ErrNoRows {
		return nil, xerr.New(xerr.NotFound, "no blob for key")
	}
	if err != nil {
		return nil, xerr.Wrap(xerr.StoreIO, "fetch blob", err)
	}
	if version != outVersion {
		return nil, ErrVersionMismatch
	}
	return data, nil
}
