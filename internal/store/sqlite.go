package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// memoryPath opens a private in-memory database.
const memoryPath = ":memory:"

// SQLiteStore implements Store on one SQLite database file.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens or creates the database at dbPath and brings its
// schema up to date. One connection is kept open so a ":memory:" database
// survives between calls and writers are serialized.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{"PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"}
	if dbPath != memoryPath {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// schemaVersion returns the newest applied migration, 0 on a fresh file.
func (s *SQLiteStore) schemaVersion() (int, error) {
	var exists bool
	err := s.db.Get(&exists,
		"SELECT COUNT(*) > 0 FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'")
	if err != nil || !exists {
		return 0, err
	}

	var version int
	err = s.db.Get(&version, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
	return version, err
}

// runMigrations applies every migration newer than the schema version,
// each in its own transaction.
func (s *SQLiteStore) runMigrations() error {
	current, err := s.schemaVersion()
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.Beginx()
		if err != nil {
			return fmt.Errorf("starting migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// GetConfig returns the value stored under keyname.
func (s *SQLiteStore) GetConfig(ctx context.Context, keyname string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, "SELECT value FROM config WHERE keyname = ?", keyname)
	if err != nil {
		return "", wrapNotFound("getting config "+keyname, err)
	}
	return value, nil
}

// SetConfig stores value under keyname.
func (s *SQLiteStore) SetConfig(ctx context.Context, keyname, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO config (keyname, value) VALUES (?, ?)
		 ON CONFLICT(keyname) DO UPDATE SET value = excluded.value`,
		keyname, value,
	)
	if err != nil {
		return fmt.Errorf("setting config %s: %w", keyname, err)
	}
	return nil
}

func wrapNotFound(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
