// Package store is the durable state store: every UploadJob/File state
// transition is persisted here before any externally observable effect
// (an object-store call, a job-state read) takes place. Uses raw SQL over
// modernc.org/sqlite rather than an ORM — the operation surface is small
// and each one maps onto a single statement, so a query builder would add
// a layer without paying for itself.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"uploadengine/internal/model"

	_ "modernc.org/sqlite"
)

// ErrJobExists is returned by CreateJob when the id is already in use.
var ErrJobExists = errors.New("store: job already exists")

// ErrNotFound is returned by GetJob when no row matches the id.
var ErrNotFound = errors.New("store: not found")

const timeLayout = time.RFC3339Nano

// Open opens (and does not yet initialize) the sqlite-backed store at path.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite allows only one writer; a single shared *sql.DB with a small
	// pool avoids SQLITE_BUSY storms under concurrent Workers.
	db.SetMaxOpenConns(1)
	return db, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// CreateJob inserts j if j.ID is unused, else fails with ErrJobExists.
func CreateJob(db *sql.DB, j model.UploadJob) error {
	now := time.Now()
	_, err := db.Exec(`
INSERT INTO upload_jobs (id, source_folder, destination_bucket, pattern, state, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.SourceFolder, j.DestinationBucket, j.Pattern, string(model.JobPending),
		formatTime(now), formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrJobExists
		}
		return fmt.Errorf("store: create job %s: %w", j.ID, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite wraps the sqlite3 result code in the error string
	// rather than exposing a typed sentinel, so fall back to a substring
	// match against the message sqlite actually returns.
	return err != nil && containsAny(err.Error(), "UNIQUE constraint failed", "constraint failed")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}

func scanJob(row interface{ Scan(...any) error }) (model.UploadJob, error) {
	var j model.UploadJob
	var state, createdAt, updatedAt string
	if err := row.Scan(&j.ID, &j.SourceFolder, &j.DestinationBucket, &j.Pattern, &state, &createdAt, &updatedAt); err != nil {
		return model.UploadJob{}, err
	}
	j.State = model.JobState(state)
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	return j, nil
}

// GetJob is a read-only lookup; returns ErrNotFound if id is unknown.
func GetJob(db *sql.DB, id string) (model.UploadJob, error) {
	row := db.QueryRow(`
SELECT id, source_folder, destination_bucket, pattern, state, created_at, updated_at
FROM upload_jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.UploadJob{}, ErrNotFound
	}
	if err != nil {
		return model.UploadJob{}, fmt.Errorf("store: get job %s: %w", id, err)
	}
	return j, nil
}

// ListJobs is a read-only listing; no locking required.
func ListJobs(db *sql.DB) ([]model.UploadJob, error) {
	rows, err := db.Query(`
SELECT id, source_folder, destination_bucket, pattern, state, created_at, updated_at
FROM upload_jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list jobs: %w", err)
	}
	defer rows.Close()

	var out []model.UploadJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// SetJobState is idempotent.
func SetJobState(db *sql.DB, id string, state model.JobState) error {
	_, err := db.Exec(`UPDATE upload_jobs SET state = ?, updated_at = ? WHERE id = ?`,
		string(state), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("store: set job state %s -> %s: %w", id, state, err)
	}
	return nil
}

// FileStat is the (path, mtime, size) tuple the Orchestrator emits while
// walking a source folder.
type FileStat struct {
	Path  string
	MTime time.Time
	Size  int64
}

// CreateFilesBulk atomically inserts rows for jobID; on a duplicate
// (upload_job_id, path) the row is skipped rather than erroring, which is
// what makes recovery and Monitor re-scans idempotent. Returns the number
// of rows actually inserted.
func CreateFilesBulk(db *sql.DB, jobID string, entries []FileStat) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("store: create files bulk: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
INSERT INTO files (upload_job_id, path, state, mtime, size, created_at, updated_at)
SELECT ?, ?, ?, ?, ?, ?, ?
WHERE NOT EXISTS (SELECT 1 FROM files WHERE upload_job_id = ? AND path = ?)`)
	if err != nil {
		return 0, fmt.Errorf("store: create files bulk: %w", err)
	}
	defer stmt.Close()

	now := formatTime(time.Now())
	inserted := 0
	for _, e := range entries {
		res, err := stmt.Exec(jobID, e.Path, string(model.FilePending), formatTime(e.MTime), e.Size, now, now, jobID, e.Path)
		if err != nil {
			return 0, fmt.Errorf("store: insert file %s/%s: %w", jobID, e.Path, err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: create files bulk commit: %w", err)
	}
	return inserted, nil
}

func scanFile(row interface{ Scan(...any) error }) (model.File, error) {
	var f model.File
	var state, mtime, createdAt, updatedAt string
	if err := row.Scan(&f.ID, &f.UploadJobID, &f.Path, &state, &f.FailureReason, &mtime, &f.Size, &createdAt, &updatedAt); err != nil {
		return model.File{}, err
	}
	f.State = model.FileState(state)
	f.MTime = parseTime(mtime)
	f.CreatedAt = parseTime(createdAt)
	f.UpdatedAt = parseTime(updatedAt)
	return f, nil
}

const fileColumns = `id, upload_job_id, path, state, failure_reason, mtime, size, created_at, updated_at`

// ClaimNextPendingFile atomically selects one File in PENDING for jobID,
// marks it IN_PROGRESS, and returns it. Guarded by `state = PENDING` so
// concurrent claims from different Workers are mutually exclusive. Returns
// (nil, nil) when none is available.
func ClaimNextPendingFile(db *sql.DB, jobID string) (*model.File, error) {
	row := db.QueryRow(`SELECT id FROM files WHERE upload_job_id = ? AND state = ? ORDER BY id LIMIT 1`,
		jobID, string(model.FilePending))
	var id int64
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: claim next pending file: %w", err)
	}

	res, err := db.Exec(`UPDATE files SET state = ?, updated_at = ? WHERE id = ? AND state = ?`,
		string(model.FileInProgress), formatTime(time.Now()), id, string(model.FilePending))
	if err != nil {
		return nil, fmt.Errorf("store: claim file %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n != 1 {
		// Lost the race to another worker; try the next PENDING row.
		return ClaimNextPendingFile(db, jobID)
	}

	row = db.QueryRow(`SELECT `+fileColumns+` FROM files WHERE id = ?`, id)
	f, err := scanFile(row)
	if err != nil {
		return nil, fmt.Errorf("store: reload claimed file %d: %w", id, err)
	}
	return &f, nil
}

// MarkFile transactionally updates fileID's state, sets failure_reason to
// the given value (an empty reason clears it) and bumps updated_at.
func MarkFile(db *sql.DB, fileID int64, newState model.FileState, failureReason string) error {
	_, err := db.Exec(`UPDATE files SET state = ?, failure_reason = ?, updated_at = ? WHERE id = ?`,
		string(newState), failureReason, formatTime(time.Now()), fileID)
	if err != nil {
		return fmt.Errorf("store: mark file %d -> %s: %w", fileID, newState, err)
	}
	return nil
}

// UpdateFileStat records a freshly observed (mtime, size) and resets the
// row to PENDING — used by the Monitor when it detects a source change,
// and by the recovery pass's verification sweep when an UPLOADED object is
// missing. A Worker that owns the row uses UpdateFileStatInProgress.
func UpdateFileStat(db *sql.DB, fileID int64, mtime time.Time, size int64) error {
	_, err := db.Exec(`UPDATE files SET mtime = ?, size = ?, state = ?, failure_reason = '', updated_at = ? WHERE id = ?`,
		formatTime(mtime), size, string(model.FilePending), formatTime(time.Now()), fileID)
	if err != nil {
		return fmt.Errorf("store: update file stat %d: %w", fileID, err)
	}
	return nil
}

// UpdateFileStatInProgress is the narrower variant a Worker uses while it
// already owns the row: it does not change state, since the row is
// already IN_PROGRESS and should stay that way.
func UpdateFileStatInProgress(db *sql.DB, fileID int64, mtime time.Time, size int64) error {
	_, err := db.Exec(`UPDATE files SET mtime = ?, size = ?, updated_at = ? WHERE id = ?`,
		formatTime(mtime), size, formatTime(time.Now()), fileID)
	if err != nil {
		return fmt.Errorf("store: update file stat (in progress) %d: %w", fileID, err)
	}
	return nil
}

// SummarizeJob returns counts per file-state for jobID.
func SummarizeJob(db *sql.DB, jobID string) (model.StateCounts, error) {
	rows, err := db.Query(`SELECT state, COUNT(*) FROM files WHERE upload_job_id = ? GROUP BY state`, jobID)
	if err != nil {
		return model.StateCounts{}, fmt.Errorf("store: summarize job %s: %w", jobID, err)
	}
	defer rows.Close()

	var c model.StateCounts
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return model.StateCounts{}, err
		}
		switch model.FileState(state) {
		case model.FilePending:
			c.Pending = n
		case model.FileInProgress:
			c.InProgress = n
		case model.FileUploaded:
			c.Uploaded = n
		case model.FileFailed:
			c.Failed = n
		}
	}
	return c, rows.Err()
}

// ListFiles lists every File row for jobID, most recently created first.
func ListFiles(db *sql.DB, jobID string) ([]model.File, error) {
	rows, err := db.Query(`SELECT `+fileColumns+` FROM files WHERE upload_job_id = ? ORDER BY created_at DESC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("store: list files %s: %w", jobID, err)
	}
	defer rows.Close()

	var out []model.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ListFilesInState lists every File row for jobID in the given state —
// used to submit a ticket per PENDING file and by the recovery pass's
// optional UPLOADED verification sweep.
func ListFilesInState(db *sql.DB, jobID string, state model.FileState) ([]model.File, error) {
	rows, err := db.Query(`SELECT `+fileColumns+` FROM files WHERE upload_job_id = ? AND state = ?`, jobID, string(state))
	if err != nil {
		return nil, fmt.Errorf("store: list files in state %s/%s: %w", jobID, state, err)
	}
	defer rows.Close()

	var out []model.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ResetInProgressToPending resets every IN_PROGRESS file of jobID back to
// PENDING. Run once at startup, before any Worker starts, so there is no
// contender for the rows it touches.
func ResetInProgressToPending(db *sql.DB, jobID string) (int64, error) {
	res, err := db.Exec(`UPDATE files SET state = ?, updated_at = ? WHERE upload_job_id = ? AND state = ?`,
		string(model.FilePending), formatTime(time.Now()), jobID, string(model.FileInProgress))
	if err != nil {
		return 0, fmt.Errorf("store: reset in-progress files for %s: %w", jobID, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteNonUploadedFiles removes every File row for jobID that is not
// UPLOADED. Backs engine.RetryJob: discard a FAILED file's history rather
// than wait for the Monitor to re-enqueue it.
func DeleteNonUploadedFiles(db *sql.DB, jobID string) (int64, error) {
	res, err := db.Exec(`DELETE FROM files WHERE upload_job_id = ? AND state != ?`, jobID, string(model.FileUploaded))
	if err != nil {
		return 0, fmt.Errorf("store: delete non-uploaded files for %s: %w", jobID, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// JobsInState lists every job currently in one of the given states —
// used for the startup recovery pass and the Monitor's job selection.
func JobsInState(db *sql.DB, states ...model.JobState) ([]model.UploadJob, error) {
	if len(states) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(states))
	args := make([]any, len(states))
	for i, s := range states {
		placeholders[i] = "?"
		args[i] = string(s)
	}
	query := fmt.Sprintf(`
SELECT id, source_folder, destination_bucket, pattern, state, created_at, updated_at
FROM upload_jobs WHERE state IN (%s) ORDER BY created_at`, join(placeholders, ","))

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: jobs in state: %w", err)
	}
	defer rows.Close()

	var out []model.UploadJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func join(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}
