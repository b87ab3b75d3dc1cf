// Package orchestrator drives a job from submission through to a terminal
// state: it expands a job into its file set, feeds file tickets to the
// worker pool, reconciles completions back into job state, and runs the
// periodic re-scan that catches files changed after a job looked done.
package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"uploadengine/internal/config"
	"uploadengine/internal/model"
	"uploadengine/internal/objectstore"
	"uploadengine/internal/store"
	"uploadengine/internal/worker"
)

type pool interface {
	Submit(ctx context.Context, jobID string) error
	Completions() <-chan worker.Outcome
}

// Orchestrator owns no durable state of its own: every decision it makes
// is derived from a read of the Store, made again (not cached) each time
// it matters.
type Orchestrator struct {
	cfg      config.Config
	db       *sql.DB
	objStore objectstore.Store
	pool     pool
	logger   *zap.SugaredLogger
}

// New builds an Orchestrator over an already-open Store handle, an
// object-store adapter, and a started-or-startable worker pool.
func New(cfg config.Config, db *sql.DB, objStore objectstore.Store, p pool, logger *zap.SugaredLogger) *Orchestrator {
	return &Orchestrator{cfg: cfg, db: db, objStore: objStore, pool: p, logger: logger}
}

// Run starts the completion-reconciliation loop and, if enabled, the
// monitor loop, and blocks until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) {
	go o.completionLoop(ctx)
	if o.cfg.MonitorInterval > 0 {
		go o.monitorLoop(ctx)
	}
	<-ctx.Done()
}

// ProcessJob expands a newly submitted job: it moves the job to
// IN_PROGRESS, probes the destination bucket, walks the source folder,
// inserts the discovered files, and submits one ticket per PENDING file.
// It does not wait for uploads to finish — finalization happens
// asynchronously as completions arrive on the pool.
func (o *Orchestrator) ProcessJob(ctx context.Context, jobID string) error {
	if err := store.SetJobState(o.db, jobID, model.JobInProgress); err != nil {
		return err
	}

	job, err := store.GetJob(o.db, jobID)
	if err != nil {
		return err
	}

	if err := o.objStore.HeadBucket(ctx, job.DestinationBucket); err != nil {
		o.logger.Errorw("destination bucket unreachable, failing job", "job_id", jobID, "bucket", job.DestinationBucket, "error", err)
		_ = store.SetJobState(o.db, jobID, model.JobFailed)
		return fmt.Errorf("orchestrator: head_bucket %s: %w", job.DestinationBucket, err)
	}

	entries, err := scanSource(job.SourceFolder, job.Pattern)
	if err != nil {
		o.logger.Errorw("source scan failed, failing job", "job_id", jobID, "source_folder", job.SourceFolder, "error", err)
		_ = store.SetJobState(o.db, jobID, model.JobFailed)
		return fmt.Errorf("orchestrator: scan %s: %w", job.SourceFolder, err)
	}

	inserted, err := store.CreateFilesBulk(o.db, jobID, entries)
	if err != nil {
		return err
	}
	o.logger.Infow("job expanded", "job_id", jobID, "discovered", len(entries), "inserted", inserted)

	return o.submitPending(ctx, jobID)
}

// RetryJob discards every non-UPLOADED file row for jobID and re-expands
// it from a fresh directory scan, leaving already-UPLOADED files alone.
func (o *Orchestrator) RetryJob(ctx context.Context, jobID string) error {
	n, err := store.DeleteNonUploadedFiles(o.db, jobID)
	if err != nil {
		return err
	}
	o.logger.Infow("job retry: cleared non-uploaded files", "job_id", jobID, "cleared", n)
	return o.ProcessJob(ctx, jobID)
}

// RecoveryPass runs once at startup, before the worker pool starts: it
// resets every IN_PROGRESS file back to PENDING for every job that isn't
// already terminal, so a crash mid-upload leaves nothing permanently
// stuck. If VerifyOnRecovery is set it also head_objects every UPLOADED
// file and requeues the ones the object store no longer has.
func (o *Orchestrator) RecoveryPass(ctx context.Context) error {
	jobs, err := store.JobsInState(o.db, model.JobPending, model.JobInProgress)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		n, err := store.ResetInProgressToPending(o.db, job.ID)
		if err != nil {
			return err
		}
		if n > 0 {
			o.logger.Infow("recovery: reset in-progress files", "job_id", job.ID, "count", n)
		}

		if o.cfg.VerifyOnRecovery {
			if err := o.verifyUploaded(ctx, job); err != nil {
				o.logger.Errorw("recovery: verify uploaded files failed", "job_id", job.ID, "error", err)
			}
		}
	}

	return nil
}

// ResubmitRecovered submits a ticket for every currently-PENDING file
// belonging to a non-terminal job. Call this once the worker pool is
// draining, after RecoveryPass has finished its state resets — the order
// matters: a ticket submitted before a worker exists just queues, but a
// state reset performed after a worker might already have claimed the row
// would race the worker's own claim.
func (o *Orchestrator) ResubmitRecovered(ctx context.Context) error {
	jobs, err := store.JobsInState(o.db, model.JobPending, model.JobInProgress)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if err := o.submitPending(ctx, job.ID); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) submitPending(ctx context.Context, jobID string) error {
	pending, err := store.ListFilesInState(o.db, jobID, model.FilePending)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		o.finalizeJob(ctx, jobID)
		return nil
	}
	for range pending {
		if err := o.pool.Submit(ctx, jobID); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) verifyUploaded(ctx context.Context, job model.UploadJob) error {
	uploaded, err := store.ListFilesInState(o.db, job.ID, model.FileUploaded)
	if err != nil {
		return err
	}
	for _, f := range uploaded {
		key := worker.ObjectKey(job.ID, f.Path)
		if _, err := o.objStore.HeadObject(ctx, job.DestinationBucket, key); err != nil {
			if objectstore.ClassOf(err) != objectstore.NotFound {
				continue
			}
			o.logger.Warnw("recovery: uploaded file missing from object store, requeueing", "job_id", job.ID, "file_id", f.ID, "path", f.Path)
			if err := store.UpdateFileStat(o.db, f.ID, f.MTime, f.Size); err != nil {
				return err
			}
		}
	}
	return nil
}

// completionLoop drains the pool's Outcome channel and, for each job a
// completion names, re-checks the Store to decide whether the job has
// reached a terminal state. The in-flight outcome itself carries no
// authority beyond "something about this job just changed" — the
// decision is always made against summarize_job.
func (o *Orchestrator) completionLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case outcome, ok := <-o.pool.Completions():
			if !ok {
				return
			}
			o.finalizeJob(ctx, outcome.JobID)
		}
	}
}

func (o *Orchestrator) finalizeJob(ctx context.Context, jobID string) {
	counts, err := store.SummarizeJob(o.db, jobID)
	if err != nil {
		o.logger.Errorw("summarize job failed", "job_id", jobID, "error", err)
		return
	}
	if counts.Pending != 0 || counts.InProgress != 0 {
		return
	}

	newState := model.JobCompleted
	if counts.Failed > 0 {
		newState = model.JobFailed
	}
	if err := store.SetJobState(o.db, jobID, newState); err != nil {
		o.logger.Errorw("finalize job failed", "job_id", jobID, "error", err)
		return
	}
	o.logger.Infow("job finalized", "job_id", jobID, "state", newState, "uploaded", counts.Uploaded, "failed", counts.Failed)
}

func (o *Orchestrator) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.MonitorTick(ctx); err != nil {
				o.logger.Errorw("monitor tick failed", "error", err)
			}
		}
	}
}
