package store

import "database/sql"

// Init creates the upload_jobs and files tables if they don't already
// exist. Sets the pragmas appropriate for a single-writer SQLite
// workload: WAL for concurrent readers, a busy timeout so a writer
// doesn't immediately fail under contention, and foreign keys on so
// deleting a job deletes its files.
func Init(db *sql.DB) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		`PRAGMA foreign_keys=ON;`,
		`
CREATE TABLE IF NOT EXISTS upload_jobs (
	id TEXT PRIMARY KEY,
	source_folder TEXT NOT NULL,
	destination_bucket TEXT NOT NULL,
	pattern TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL,
	created_at TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP),
	updated_at TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP)
);
`,
		`
CREATE TABLE IF NOT EXISTS files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	upload_job_id TEXT NOT NULL REFERENCES upload_jobs(id) ON DELETE CASCADE,
	path TEXT NOT NULL,
	state TEXT NOT NULL,
	failure_reason TEXT NOT NULL DEFAULT '',
	mtime TEXT,
	size INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP),
	updated_at TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP),
	UNIQUE(upload_job_id, path)
);
`,
		`CREATE INDEX IF NOT EXISTS idx_files_job_state ON files(upload_job_id, state);`,
	}

	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}

	return nil
}
