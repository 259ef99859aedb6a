package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

const sqlitePrincipalsSchema = `CREATE TABLE IF NOT EXISTS principals (
	id            TEXT PRIMARY KEY,
	role          TEXT NOT NULL CHECK (role IN ('student', 'teacher', 'admin')),
	name          TEXT NOT NULL,
	email         TEXT NOT NULL,
	phone         TEXT NOT NULL,
	identifier    TEXT,
	course        TEXT NOT NULL DEFAULT '',
	department    TEXT NOT NULL DEFAULT '',
	designation   TEXT NOT NULL DEFAULT '',
	avatar        TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	refresh_token TEXT,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
)`

var sqliteIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS principals_role_email_key ON principals (role, lower(email))`,
	`CREATE UNIQUE INDEX IF NOT EXISTS principals_role_identifier_key ON principals (role, identifier) WHERE identifier IS NOT NULL`,
}

// OpenSQLite opens (or creates) the SQLite database at path and ensures the
// principals schema exists. Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, sqlitePrincipalsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create principals table: %w", err)
	}
	for _, stmt := range sqliteIndexes {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create principals index: %w", err)
		}
	}

	slog.Info("sqlite opened", "path", path)
	return db, nil
}
