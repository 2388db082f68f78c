package db

import (
	"database/sql"
	"fmt"
)

// Migration defines a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
	// Column, when set, skips the migration if table.column already exists.
	Table  string
	Column string
}

// Migrations is the list of all database migrations in order
var Migrations = []Migration{
	// Version 1 is the initial schema - no migration needed
	{
		Version:     2,
		Description: "Track push attempts on outbox entries",
		SQL: `ALTER TABLE outbox ADD COLUMN attempts INTEGER NOT NULL DEFAULT 0;
		ALTER TABLE outbox ADD COLUMN last_error TEXT NOT NULL DEFAULT '';`,
		Table:  "outbox",
		Column: "attempts",
	},
}

// columnExists checks whether a column exists on a table
func (db *DB) columnExists(table, column string) (bool, error) {
	query := fmt.Sprintf("PRAGMA table_info(%s);", table)
	rows, err := db.conn.Query(query)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}

	return false, rows.Err()
}

// runMigrationsInternal runs migrations without acquiring lock (caller holds it)
func (db *DB) runMigrationsInternal() (int, error) {
	currentVersion, err := db.GetSchemaVersion()
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	if currentVersion >= SchemaVersion {
		return 0, nil
	}

	migrationsRun := 0
	for _, migration := range Migrations {
		if migration.Version <= currentVersion {
			continue
		}
		if migration.Column != "" {
			exists, err := db.columnExists(migration.Table, migration.Column)
			if err != nil {
				return migrationsRun, fmt.Errorf("check column %s: %w", migration.Column, err)
			}
			if exists {
				if err := db.setSchemaVersionInternal(migration.Version); err != nil {
					return migrationsRun, fmt.Errorf("set version %d: %w", migration.Version, err)
				}
				migrationsRun++
				continue
			}
		}
		if _, err := db.conn.Exec(migration.SQL); err != nil {
			return migrationsRun, fmt.Errorf("migration %d (%s): %w", migration.Version, migration.Description, err)
		}
		if err := db.setSchemaVersionInternal(migration.Version); err != nil {
			return migrationsRun, fmt.Errorf("set version %d: %w", migration.Version, err)
		}
		migrationsRun++
	}

	if err := db.setSchemaVersionInternal(SchemaVersion); err != nil {
		return migrationsRun, err
	}
	return migrationsRun, nil
}
