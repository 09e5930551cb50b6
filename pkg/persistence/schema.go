package persistence

import (
	"database/sql"
	"errors"
	"fmt"
)

// CurrentSchemaVersion defines the current schema version for migration
// support. Increment for any structural change and add a runMigration case.
const CurrentSchemaVersion = 1

// initializeSchemaWithMigrations ensures the database schema is at the
// current version.
func initializeSchemaWithMigrations(db *sql.DB) error {
	currentVersion, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	// Empty database: create fresh schema.
	if currentVersion == 0 {
		return createSchema(db)
	}

	if currentVersion == CurrentSchemaVersion {
		return nil
	}
	if currentVersion > CurrentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than this binary supports (%d)",
			currentVersion, CurrentSchemaVersion)
	}

	return runMigrations(db, currentVersion, CurrentSchemaVersion)
}

// runMigrations applies migrations from current version to target version.
func runMigrations(db *sql.DB, fromVersion, toVersion int) error {
	for version := fromVersion + 1; version <= toVersion; version++ {
		if err := runMigration(db, version); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", version, err)
		}
		if err := setSchemaVersion(db, version); err != nil {
			return fmt.Errorf("failed to update schema version to %d: %w", version, err)
		}
	}
	return nil
}

// runMigration applies one migration step.
func runMigration(_ *sql.DB, version int) error {
	switch version {
	default:
		return fmt.Errorf("no migration defined for version %d", version)
	}
}

// GetSchemaVersion returns the schema version recorded in the database, or 0
// for an empty database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		// Missing table means an uninitialized database.
		var tableCheck string
		checkErr := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'",
		).Scan(&tableCheck)
		if errors.Is(checkErr, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func setSchemaVersion(db *sql.DB, version int) error {
	if _, err := db.Exec("UPDATE schema_version SET version = ?", version); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

// createSchema creates the full schema at the current version.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS experiments (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		put_id TEXT NOT NULL,
		technique TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL,
		provider TEXT NOT NULL DEFAULT '',
		max_iterations INTEGER NOT NULL,
		execute_tests INTEGER NOT NULL DEFAULT 1,
		measure_coverage INTEGER NOT NULL DEFAULT 1,
		outcome_kind TEXT NOT NULL DEFAULT '',
		iterations INTEGER NOT NULL DEFAULT 0,
		coverage_percent REAL,
		test_count INTEGER NOT NULL DEFAULT 0,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		cost_usd REAL NOT NULL DEFAULT 0,
		error_text TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS attempts (
		experiment_id TEXT NOT NULL,
		iteration INTEGER NOT NULL,
		valid INTEGER NOT NULL,
		validity_message TEXT NOT NULL DEFAULT '',
		execution_status TEXT NOT NULL DEFAULT '',
		execution_detail TEXT NOT NULL DEFAULT '',
		coverage_percent REAL,
		candidate TEXT NOT NULL DEFAULT '',
		error_text TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (experiment_id, iteration),
		FOREIGN KEY (experiment_id) REFERENCES experiments(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_experiments_technique ON experiments(technique);
	CREATE INDEX IF NOT EXISTS idx_experiments_model ON experiments(model);
	CREATE INDEX IF NOT EXISTS idx_experiments_put ON experiments(put_id);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", CurrentSchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}
