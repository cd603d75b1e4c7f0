package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
	logging "github.com/op/go-logging"
)

var log = logging.MustGetLogger("elmls.store")

// SchemaVersion is bumped whenever the table layout or the meaning of its
// rows changes. A database written by another version is treated as corrupt
// and rebuilt.
const SchemaVersion = "4"

// ErrCorrupt reports a database that cannot be trusted. Callers rebuild the
// index from source instead of failing.
var ErrCorrupt = errors.New("index database corrupt")

// Store is the SQLite persistence layer for the symbol index.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db, path: dbPath}, nil
}

// Open opens, migrates and checks the database at dbPath. If anything about
// the existing file is wrong, the file is deleted and a fresh database is
// created; rebuilt reports whether that happened.
func Open(ctx context.Context, dbPath string) (s *Store, rebuilt bool, err error) {
	s, err = openChecked(ctx, dbPath)
	if err == nil {
		return s, false, nil
	}
	if !errors.Is(err, ErrCorrupt) {
		return nil, false, err
	}
	log.Warningf("%v; rebuilding %s", err, dbPath)
	if err := removeDatabase(dbPath); err != nil {
		return nil, false, err
	}
	s, err = openChecked(ctx, dbPath)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

func openChecked(ctx context.Context, dbPath string) (*Store, error) {
	s, err := NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := s.CheckIntegrity(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	v, err := s.Meta(ctx, "schema_version")
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	switch v {
	case SchemaVersion:
	case "":
		if err := s.SetMeta(ctx, "schema_version", SchemaVersion); err != nil {
			s.Close()
			return nil, err
		}
	default:
		s.Close()
		return nil, fmt.Errorf("%w: schema version %q, want %q", ErrCorrupt, v, SchemaVersion)
	}
	return s, nil
}

func removeDatabase(dbPath string) error {
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(dbPath + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove database: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use in transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Migrate creates all tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// CheckIntegrity runs SQLite's integrity check. Any answer other than "ok",
// including failure to run the check, is ErrCorrupt.
func (s *Store) CheckIntegrity(ctx context.Context) error {
	var res string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&res); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if res != "ok" {
		return fmt.Errorf("%w: %s", ErrCorrupt, res)
	}
	return nil
}

// Meta returns a metadata value, or "" when unset.
func (s *Store) Meta(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("meta %s: %w", key, err)
	}
	return v, nil
}

// SetMeta stores a metadata value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS metadata (
  key             TEXT PRIMARY KEY,
  value           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
  id              INTEGER PRIMARY KEY,
  uri             TEXT NOT NULL UNIQUE,
  module          TEXT NOT NULL,
  hash            TEXT NOT NULL,
  last_indexed    TIMESTAMP
);

CREATE TABLE IF NOT EXISTS symbols (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
  ordinal         INTEGER NOT NULL,
  name            TEXT NOT NULL,
  kind            TEXT NOT NULL,
  container       TEXT,
  parent          TEXT,
  signature       TEXT,
  doc             TEXT,
  exposed         BOOLEAN DEFAULT FALSE,
  start_line      INTEGER,
  start_col       INTEGER,
  end_line        INTEGER,
  end_col         INTEGER,
  sel_start_line  INTEGER,
  sel_start_col   INTEGER,
  sel_end_line    INTEGER,
  sel_end_col     INTEGER
);

CREATE TABLE IF NOT EXISTS imports (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
  ordinal         INTEGER NOT NULL,
  module          TEXT NOT NULL,
  alias           TEXT,
  expose_all      BOOLEAN DEFAULT FALSE,
  exposing        TEXT,
  start_line      INTEGER,
  start_col       INTEGER,
  end_line        INTEGER,
  end_col         INTEGER
);

CREATE TABLE IF NOT EXISTS mentions (
  file_id         INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
  name            TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_symbols_file ON symbols(file_id);
CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);
CREATE INDEX IF NOT EXISTS idx_imports_file ON imports(file_id);
CREATE INDEX IF NOT EXISTS idx_imports_module ON imports(module);
CREATE INDEX IF NOT EXISTS idx_mentions_file ON mentions(file_id);
`
