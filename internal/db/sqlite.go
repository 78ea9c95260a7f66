// Package db implements the SQLite account store: stored player accounts,
// their access tokens and a history of bridged logins.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Database is a SQLite handle that serialises writers. Readers go straight
// to the pool.
type Database struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// NewDatabase opens or creates the database file at dbPath, creating its
// parent directory.
func NewDatabase(dbPath string) (*Database, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}

	// One connection: SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			log.Warn().Err(err).Str("pragma", pragma).Msg("failed to apply pragma")
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Debug().Str("path", dbPath).Msg("database opened")

	return &Database{db: db, path: dbPath}, nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// Path returns the database file path.
func (d *Database) Path() string {
	return d.path
}

// SchemaVersion returns the number of migration steps applied so far.
func (d *Database) SchemaVersion() (int, error) {
	var v int
	if err := d.db.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

// Migrate applies the steps the database has not seen yet, in order, and
// records the new count in user_version. Steps are append-only: step i is
// never edited once released.
func (d *Database) Migrate(steps []string) error {
	current, err := d.SchemaVersion()
	if err != nil {
		return err
	}
	if current > len(steps) {
		return fmt.Errorf("database schema version %d is newer than this build (%d)", current, len(steps))
	}
	if current == len(steps) {
		return nil
	}

	return d.Transaction(func(tx *sql.Tx) error {
		for i := current; i < len(steps); i++ {
			if _, err := tx.Exec(steps[i]); err != nil {
				return fmt.Errorf("migration step %d failed: %w", i+1, err)
			}
		}
		// PRAGMA does not take bind parameters.
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", len(steps))); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
		log.Debug().Int("from", current).Int("to", len(steps)).Msg("database migrated")
		return nil
	})
}

// Exec executes a statement without returning rows.
func (d *Database) Exec(query string, args ...any) (sql.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.Exec(query, args...)
}

// Query executes a query that returns rows.
func (d *Database) Query(query string, args ...any) (*sql.Rows, error) {
	return d.db.Query(query, args...)
}

// QueryRow executes a query that returns a single row.
func (d *Database) QueryRow(query string, args ...any) *sql.Row {
	return d.db.QueryRow(query, args...)
}

// Transaction runs fn inside a transaction, rolling back when fn fails.
func (d *Database) Transaction(fn func(tx *sql.Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}
