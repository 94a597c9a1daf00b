// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package store keeps the history of finished sessions in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // register sqlite driver
)

// Open opens the database at path, creating and migrating it as needed
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()

		return nil, err
	}

	return db, nil
}

// migrations[i] brings the schema from user_version i to i+1
var migrations = []string{
	`
	CREATE TABLE sessions(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		role TEXT NOT NULL,
		reason TEXT NOT NULL,
		final_state TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		peer_id TEXT NOT NULL DEFAULT '',
		protocol INTEGER NOT NULL DEFAULT 0,
		energy_transfer_mode INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL,
		ended_at INTEGER NOT NULL,
		start_soc INTEGER NOT NULL DEFAULT 0,
		final_soc INTEGER NOT NULL DEFAULT 0,
		energy_wh REAL NOT NULL DEFAULT 0,
		charge_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX idx_sessions_started_at ON sessions(started_at);
	CREATE TABLE session_errors(
		session_row INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		code INTEGER NOT NULL,
		at INTEGER NOT NULL
	);
	`,
	`ALTER TABLE sessions ADD COLUMN link TEXT NOT NULL DEFAULT '';`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for ; version < len(migrations); version++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration tx: %w", err)
		}
		if _, err := tx.ExecContext(ctx, migrations[version]); err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("migrate schema to %d: %w", version+1, err)
		}
		// PRAGMA does not accept bound parameters
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, version+1)); err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("set schema version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration tx: %w", err)
		}
	}

	return nil
}
