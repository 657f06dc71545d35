// Package storedb opens a migrated sqlite database for cache tiers that
// need small, structured metadata alongside their bulk byte storage; its
// one user is the local-file tier's retention ledger (the remote tiers
// keep their lifetime in object metadata instead). It is deliberately
// tiny: a version table plus an ordered list of SQL migrations run once
// at Open.
package storedb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Migration is one forward-only schema step, applied in Version order.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// OpenOptions configures Open.
type OpenOptions struct {
	Path       string
	Module     string // used only in error messages, e.g. "cachetier"
	Migrations []Migration
}

// Open creates the parent directory if needed, opens the sqlite file at
// opts.Path, and applies any migrations newer than the stored schema
// version. It is safe to call concurrently from multiple processes; sqlite
// serializes the writes.
func Open(opts OpenOptions) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o700); err != nil {
		return nil, fmt.Errorf("%s: create db directory: %w", opts.Module, err)
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("%s: open %s: %w", opts.Module, opts.Path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite does not support concurrent writers on one handle

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: create schema_version: %w", opts.Module, err)
	}

	current := 0
	row := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`)
	_ = row.Scan(&current) // no rows yet -> current stays 0

	for _, m := range opts.Migrations {
		if m.Version <= current {
			continue
		}
		if _, err := db.Exec(m.SQL); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: migration %d (%s): %w", opts.Module, m.Version, m.Name, err)
		}
		if _, err := db.Exec(`DELETE FROM schema_version`); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: record schema_version: %w", opts.Module, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_version(version) VALUES (?)`, m.Version); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: record schema_version: %w", opts.Module, err)
		}
		current = m.Version
	}

	return db, nil
}
