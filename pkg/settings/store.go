// Package settings persists per-feature enable/disable flags in a local
// sqlite database. The core never interprets the flags beyond skipping
// initialization of disabled features; everything else about a feature's
// configuration belongs to the feature itself.
package settings

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is a sqlite-backed flag store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the flag database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("settings: create dir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("settings: open %s: %w", path, err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS feature_flags (
			name       TEXT PRIMARY KEY,
			enabled    INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("settings: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Enabled reports whether a feature is enabled, returning def when the
// feature has no persisted flag yet.
func (s *Store) Enabled(name string, def bool) (bool, error) {
	var enabled int
	err := s.db.QueryRow(`SELECT enabled FROM feature_flags WHERE name = ?`, name).Scan(&enabled)
	switch {
	case err == sql.ErrNoRows:
		return def, nil
	case err != nil:
		return def, fmt.Errorf("settings: read flag %s: %w", name, err)
	}
	return enabled != 0, nil
}

// SetEnabled persists a feature flag.
func (s *Store) SetEnabled(name string, enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO feature_flags (name, enabled, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET enabled = excluded.enabled, updated_at = excluded.updated_at`,
		name, v, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("settings: write flag %s: %w", name, err)
	}
	return nil
}

// All returns every persisted flag.
func (s *Store) All() (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT name, enabled FROM feature_flags ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("settings: list flags: %w", err)
	}
	defer rows.Close()
	flags := make(map[string]bool)
	for rows.Next() {
		var name string
		var enabled int
		if err := rows.Scan(&name, &enabled); err != nil {
			return nil, fmt.Errorf("settings: scan flag: %w", err)
		}
		flags[name] = enabled != 0
	}
	return flags, rows.Err()
}
