package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
)

// migrate applies every migration newer than the version stored in
// PRAGMA user_version. Databases written by the Python predecessor
// carry the full schema but a zero user_version; those are stamped at
// version 1 instead of replaying DDL against live tables.
func migrate(conn *sql.DB) error {
	var version int
	if err := conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	if version == 0 {
		stamped, err := stampPredecessorSchema(conn)
		if err != nil {
			return err
		}
		version = stamped
	}

	for _, m := range migrations {
		if m.Version <= version {
			continue
		}
		if err := applyMigration(conn, m); err != nil {
			return err
		}
	}
	return nil
}

// stampPredecessorSchema distinguishes a fresh database from a
// pre-versioning one. The buffer table existed in every predecessor
// schema, so its presence alone decides. Returns the stamped version,
// 0 for a fresh database.
func stampPredecessorSchema(conn *sql.DB) (int, error) {
	var name string
	err := conn.QueryRow(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'scraped_items'",
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("checking for predecessor schema: %w", err)
	}

	log.Println("Unversioned schema found, recording as version 1")
	if _, err := conn.Exec("PRAGMA user_version = 1"); err != nil {
		return 0, fmt.Errorf("stamping predecessor schema: %w", err)
	}
	return 1, nil
}

func applyMigration(conn *sql.DB, m Migration) error {
	log.Printf("Applying migration %d: %s", m.Version, m.Description)

	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.Version, err)
	}
	if err := m.Up(tx); err != nil {
		tx.Rollback()
		return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.Version, err)
	}

	// user_version cannot move inside the transaction with
	// modernc/sqlite. A crash between commit and this write is fine:
	// the DDL is idempotent and the migration re-runs.
	if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
		return fmt.Errorf("setting version %d: %w", m.Version, err)
	}
	return nil
}
