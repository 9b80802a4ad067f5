package store

import (
	"context"
	"database/sql"
	"strings"
)

// schema contains the DDL for all batchpoll tables.
// Each statement uses IF NOT EXISTS for idempotency. Secret references on jobs
// carry no foreign key: a forced secret delete leaves them dangling and the
// scheduler reports the job as missing its credential.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS secrets (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL UNIQUE,
		kind       TEXT NOT NULL,
		sealed     BLOB NOT NULL,
		created_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS jobs (
		id                TEXT PRIMARY KEY,
		name              TEXT NOT NULL,
		batch_handle      TEXT NOT NULL,
		status_secret_id  TEXT NOT NULL,
		trigger_secret_id TEXT NOT NULL,
		stack_url         TEXT NOT NULL DEFAULT '',
		component_id      TEXT NOT NULL DEFAULT '',
		configuration_id  TEXT NOT NULL DEFAULT '',
		interval_seconds  INTEGER NOT NULL,
		status            TEXT NOT NULL DEFAULT 'active',
		trigger_pending   INTEGER NOT NULL DEFAULT 0,
		version           INTEGER NOT NULL DEFAULT 1,
		last_check_at     TEXT,
		next_check_at     TEXT,
		last_error        TEXT NOT NULL DEFAULT '',
		retry_count       INTEGER NOT NULL DEFAULT 0,
		created_at        TEXT NOT NULL,
		completed_at      TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS poll_logs (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id     TEXT NOT NULL,
		outcome    TEXT NOT NULL,
		detail     TEXT NOT NULL DEFAULT '',
		run_id     TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,

	// Due-job selection: status filter plus next_check_at ordering.
	`CREATE INDEX IF NOT EXISTS idx_jobs_status_next ON jobs(status, next_check_at)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status_secret ON jobs(status_secret_id)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_trigger_secret ON jobs(trigger_secret_id)`,
	`CREATE INDEX IF NOT EXISTS idx_poll_logs_job ON poll_logs(job_id, id)`,
	`CREATE INDEX IF NOT EXISTS idx_poll_logs_created ON poll_logs(created_at)`,
}

// alterStatements are column additions that need special handling since
// SQLite doesn't support IF NOT EXISTS for ALTER TABLE ADD COLUMN.
var alterStatements = []struct {
	table    string
	column   string
	alterSQL string
	indexSQL string // Optional index to create after column is added
}{
	{
		table:    "jobs",
		column:   "last_run_id",
		alterSQL: "ALTER TABLE jobs ADD COLUMN last_run_id TEXT NOT NULL DEFAULT ''",
	},
	{
		table:    "jobs",
		column:   "completed_at",
		alterSQL: "ALTER TABLE jobs ADD COLUMN completed_at TEXT",
		indexSQL: "CREATE INDEX IF NOT EXISTS idx_jobs_completed_at ON jobs(completed_at) WHERE completed_at IS NOT NULL",
	},
}

// migrate executes all schema DDL statements and alter migrations.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	for _, alter := range alterStatements {
		if err := addColumnIfNotExists(ctx, db, alter.table, alter.column, alter.alterSQL); err != nil {
			return err
		}
		if alter.indexSQL != "" {
			if _, err := db.ExecContext(ctx, alter.indexSQL); err != nil {
				return err
			}
		}
	}

	return nil
}

// addColumnIfNotExists adds a column to a table if it doesn't already exist.
func addColumnIfNotExists(ctx context.Context, db *sql.DB, table, column, alterSQL string) error {
	exists, err := columnExists(ctx, db, table, column)
	if err != nil || exists {
		return err
	}
	_, err = db.ExecContext(ctx, alterSQL)
	return err
}

func columnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid, notnull, pk int
		var name, ctype string
		var dflt *string
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if strings.EqualFold(name, column) {
			return true, nil
		}
	}
	return false, rows.Err()
}
