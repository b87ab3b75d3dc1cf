package orchestrator

import (
	"context"
	"os"
	"time"

	"uploadengine/internal/model"
	"uploadengine/internal/store"
)

// MonitorTick runs one pass of the periodic re-scan: every job currently
// COMPLETED or IN_PROGRESS gets its source folder walked again, and any
// UPLOADED or FAILED file whose mtime or size has moved since it was last
// recorded is requeued. A single tick never runs two jobs' scans concurrently with
// itself — MonitorTick is only ever invoked from one ticker goroutine — so
// no job is re-scanned by two ticks at once either. IN_PROGRESS files are
// never touched here: that row belongs to whichever Worker already
// claimed it.
func (o *Orchestrator) MonitorTick(ctx context.Context) error {
	jobs, err := store.JobsInState(o.db, model.JobCompleted, model.JobInProgress)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, job := range jobs {
		if err := o.monitorJob(ctx, job, now); err != nil {
			o.logger.Errorw("monitor: job scan failed", "job_id", job.ID, "error", err)
		}
	}
	return nil
}

func (o *Orchestrator) monitorJob(ctx context.Context, job model.UploadJob, now time.Time) error {
	if _, err := os.Stat(job.SourceFolder); err != nil {
		// Source folder is temporarily or permanently gone; leave the job
		// as-is rather than failing files that were never re-examined.
		return nil
	}

	entries, err := scanSource(job.SourceFolder, job.Pattern)
	if err != nil {
		return err
	}

	existing, err := store.ListFiles(o.db, job.ID)
	if err != nil {
		return err
	}
	byPath := make(map[string]model.File, len(existing))
	for _, f := range existing {
		byPath[f.Path] = f
	}

	var fresh []store.FileStat
	var changed int

	for _, e := range entries {
		if now.Sub(e.MTime) < o.cfg.StabilityThreshold {
			// Still being written; wait for it to settle before acting on it.
			continue
		}

		f, tracked := byPath[e.Path]
		if !tracked {
			fresh = append(fresh, e)
			continue
		}
		if f.State != model.FileUploaded && f.State != model.FileFailed {
			// PENDING files are already headed for upload through the
			// ordinary pipeline, and IN_PROGRESS is a Worker's row to own
			// exclusively — the Monitor never touches it, or a second
			// Worker could claim the same file out from under the one
			// already uploading it. UPLOADED and FAILED rows are terminal,
			// so a changed source requeues them below.
			continue
		}
		if f.MTime.Equal(e.MTime) && f.Size == e.Size {
			continue
		}

		if err := store.UpdateFileStat(o.db, f.ID, e.MTime, e.Size); err != nil {
			return err
		}
		if job.State == model.JobCompleted {
			if err := store.SetJobState(o.db, job.ID, model.JobInProgress); err != nil {
				return err
			}
			job.State = model.JobInProgress
		}
		changed++
		if err := o.pool.Submit(ctx, job.ID); err != nil {
			return err
		}
	}

	if len(fresh) > 0 {
		inserted, err := store.CreateFilesBulk(o.db, job.ID, fresh)
		if err != nil {
			return err
		}
		for i := 0; i < inserted; i++ {
			if err := o.pool.Submit(ctx, job.ID); err != nil {
				return err
			}
		}
		if inserted > 0 && job.State == model.JobCompleted {
			if err := store.SetJobState(o.db, job.ID, model.JobInProgress); err != nil {
				return err
			}
		}
	}

	if changed > 0 || len(fresh) > 0 {
		o.logger.Infow("monitor: requeued changed files", "job_id", job.ID, "changed", changed, "new", len(fresh))
	}
	return nil
}
