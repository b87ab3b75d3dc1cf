// Package model defines the UploadJob and File entities persisted by the
// State Store and passed between the Orchestrator and the Worker Pool.
package model

import "time"

// JobState is the lifecycle state of an UploadJob.
type JobState string

const (
	JobPending    JobState = "PENDING"
	JobInProgress JobState = "IN_PROGRESS"
	JobCompleted  JobState = "COMPLETED"
	JobFailed     JobState = "FAILED"
)

// FileState is the lifecycle state of a File row.
type FileState string

const (
	FilePending    FileState = "PENDING"
	FileInProgress FileState = "IN_PROGRESS"
	FileUploaded   FileState = "UPLOADED"
	FileFailed     FileState = "FAILED"
)

// UploadJob is a user-declared intent to upload the contents of a source
// folder under a common object-store prefix.
type UploadJob struct {
	ID                 string    `json:"id"`
	SourceFolder       string    `json:"source_folder"`
	DestinationBucket  string    `json:"destination_bucket"`
	Pattern            string    `json:"pattern"` // empty means "all regular files"
	State              JobState  `json:"state"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// File is a single source-filesystem object tracked by its job-relative
// path and its last-observed (mtime, size).
type File struct {
	ID            int64     `json:"id"`
	UploadJobID   string    `json:"upload_job_id"`
	Path          string    `json:"path"` // forward-slash normalized, relative to SourceFolder
	State         FileState `json:"state"`
	FailureReason string    `json:"failure_reason,omitempty"`
	MTime         time.Time `json:"mtime"`
	Size          int64     `json:"size"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// JobSummary is the read-only, derived view of a job's progress.
type JobSummary struct {
	ID             string    `json:"id"`
	State          JobState  `json:"state"`
	Progress       float64   `json:"progress"`
	TotalFiles     int       `json:"total_files"`
	CompletedFiles int       `json:"completed_files"`
	FailedFiles    int       `json:"failed_files"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// StateCounts is the per-file-state tally returned by summarize_job.
type StateCounts struct {
	Pending    int
	InProgress int
	Uploaded   int
	Failed     int
}

func (c StateCounts) Total() int {
	return c.Pending + c.InProgress + c.Uploaded + c.Failed
}
