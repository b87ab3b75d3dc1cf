// Package engine is the single in-process entry point other surfaces (the
// HTTP API, a future CLI) call through. It owns construction and startup
// of every other component and exposes nothing beyond submit/list/get/
// retry — no caller gets a handle on the Store, the pool, or the
// orchestrator directly.
package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"uploadengine/internal/config"
	"uploadengine/internal/model"
	"uploadengine/internal/objectstore"
	"uploadengine/internal/orchestrator"
	"uploadengine/internal/store"
	"uploadengine/internal/worker"
)

// Engine wires the store, the object-store adapter, the worker pool, and
// the orchestrator into the operations spec'd as the system's external
// interface: submit a job, read its status, list its files, retry it.
type Engine struct {
	cfg    config.Config
	db     *sql.DB
	pool   *worker.Pool
	orch   *orchestrator.Orchestrator
	logger *zap.SugaredLogger
}

// New opens the store, builds the object-store adapter, and wires the
// pool and orchestrator together. It does not start anything running —
// call Start for that.
func New(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (*Engine, error) {
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("engine: open store: %w", err)
	}
	if err := store.Init(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("engine: init schema: %w", err)
	}

	objStore, err := objectstore.New(ctx, objectstore.Config{
		Region:          cfg.ObjectStoreRegion,
		Endpoint:        cfg.ObjectStoreEndpoint,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		UsePathStyle:    cfg.UsePathStyleS3,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("engine: build object store: %w", err)
	}

	pool := worker.NewPool(cfg, db, objStore, logger)
	orch := orchestrator.New(cfg, db, objStore, pool, logger)

	return &Engine{cfg: cfg, db: db, pool: pool, orch: orch, logger: logger}, nil
}

// Start runs the startup recovery pass, then starts the worker pool, the
// orchestrator's reconciliation loop, and (if enabled) its monitor loop.
// Start blocks until ctx is done, then waits for in-flight uploads to
// observe cancellation and exit.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.orch.RecoveryPass(ctx); err != nil {
		return fmt.Errorf("engine: recovery pass: %w", err)
	}

	e.pool.Start(ctx)

	if err := e.orch.ResubmitRecovered(ctx); err != nil {
		e.logger.Errorw("engine: resubmit recovered files failed", "error", err)
	}

	e.orch.Run(ctx)
	e.pool.Wait()
	return nil
}

// Close releases the store handle. Call after Start has returned.
func (e *Engine) Close() error {
	return e.db.Close()
}

// Submit registers a new job and returns immediately with it in PENDING;
// expansion into files and upload happens asynchronously. If id is empty
// one is generated; otherwise the caller's id is used, and store.CreateJob's
// ErrJobExists surfaces if it's already taken.
func (e *Engine) Submit(ctx context.Context, id, sourceFolder, destinationBucket, pattern string) (model.UploadJob, error) {
	if id == "" {
		id = uuid.NewString()
	}
	job := model.UploadJob{
		ID:                id,
		SourceFolder:      sourceFolder,
		DestinationBucket: destinationBucket,
		Pattern:           pattern,
	}
	if err := store.CreateJob(e.db, job); err != nil {
		return model.UploadJob{}, err
	}

	created, err := store.GetJob(e.db, job.ID)
	if err != nil {
		return model.UploadJob{}, err
	}

	go func() {
		if err := e.orch.ProcessJob(context.Background(), created.ID); err != nil {
			e.logger.Errorw("job expansion failed", "job_id", created.ID, "error", err)
		}
	}()

	return created, nil
}

// GetJob returns a job's current row plus its derived progress summary.
func (e *Engine) GetJob(jobID string) (model.JobSummary, error) {
	job, err := store.GetJob(e.db, jobID)
	if err != nil {
		return model.JobSummary{}, err
	}
	counts, err := store.SummarizeJob(e.db, jobID)
	if err != nil {
		return model.JobSummary{}, err
	}
	return summarize(job, counts), nil
}

// ListJobs returns every job's derived progress summary, most recently
// created first.
func (e *Engine) ListJobs() ([]model.JobSummary, error) {
	jobs, err := store.ListJobs(e.db)
	if err != nil {
		return nil, err
	}
	out := make([]model.JobSummary, 0, len(jobs))
	for _, j := range jobs {
		counts, err := store.SummarizeJob(e.db, j.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, summarize(j, counts))
	}
	return out, nil
}

// ListFiles returns every File row tracked for jobID.
func (e *Engine) ListFiles(jobID string) ([]model.File, error) {
	if _, err := store.GetJob(e.db, jobID); err != nil {
		return nil, err
	}
	return store.ListFiles(e.db, jobID)
}

// RetryJob discards a job's non-UPLOADED files and re-expands it from a
// fresh directory scan.
func (e *Engine) RetryJob(ctx context.Context, jobID string) error {
	if _, err := store.GetJob(e.db, jobID); err != nil {
		return err
	}
	go func() {
		if err := e.orch.RetryJob(context.Background(), jobID); err != nil {
			e.logger.Errorw("job retry failed", "job_id", jobID, "error", err)
		}
	}()
	return nil
}

func summarize(j model.UploadJob, c model.StateCounts) model.JobSummary {
	total := c.Total()
	progress := 0.0
	if total > 0 {
		progress = float64(c.Uploaded) / float64(total)
	}
	return model.JobSummary{
		ID:             j.ID,
		State:          j.State,
		Progress:       progress,
		TotalFiles:     total,
		CompletedFiles: c.Uploaded,
		FailedFiles:    c.Failed,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}
