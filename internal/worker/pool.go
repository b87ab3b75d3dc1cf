// Package worker implements a bounded pool of upload executors that
// consume per-file upload tasks and run the multipart protocol against
// the object-store adapter: a fixed set of goroutines reading off one
// shared channel, fed by whoever currently has pending work.
package worker

import (
	"context"
	"database/sql"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"uploadengine/internal/config"
	"uploadengine/internal/objectstore"
)

// Task is a "there is pending work for this job" ticket. A Worker that
// receives one claims whichever PENDING File is available for the job via
// the Store's atomic guard — the ticket need not name the exact file,
// since no ordering is guaranteed across a job's files.
type Task struct {
	JobID string
}

// Outcome is the Worker→Orchestrator completion message, passed over a
// channel rather than via a shared mutable counter.
type Outcome struct {
	JobID   string
	FileID  int64
	Success bool
}

// Pool is the bounded set of concurrent upload executors.
type Pool struct {
	cfg      config.Config
	db       *sql.DB
	objStore objectstore.Store
	logger   *zap.SugaredLogger

	tasks       chan Task
	completions chan Outcome

	cancelMu  sync.RWMutex
	cancelled bool

	wg sync.WaitGroup
}

// NewPool builds a Pool with a queue capacity of 2*W so a job's directory
// walk gets some slack before Submit starts applying backpressure.
func NewPool(cfg config.Config, db *sql.DB, objStore objectstore.Store, logger *zap.SugaredLogger) *Pool {
	capacity := cfg.WorkerConcurrency * 2
	if capacity < 1 {
		capacity = 1
	}
	return &Pool{
		cfg:         cfg,
		db:          db,
		objStore:    objStore,
		logger:      logger,
		tasks:       make(chan Task, capacity),
		completions: make(chan Outcome, capacity),
	}
}

// Start spins up W goroutines that each run runWorker until ctx is done.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.WorkerConcurrency; i++ {
		id := workerID(i)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			runWorker(ctx, p, id)
		}()
	}
	go func() {
		<-ctx.Done()
		p.cancelMu.Lock()
		p.cancelled = true
		p.cancelMu.Unlock()
	}()
}

// Wait blocks until every Worker goroutine has exited (after ctx is done).
func (p *Pool) Wait() { p.wg.Wait() }

// Submit enqueues a ticket for jobID, blocking (applying backpressure) if
// the queue is full, until ctx is done.
func (p *Pool) Submit(ctx context.Context, jobID string) error {
	select {
	case p.tasks <- Task{JobID: jobID}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Completions is the channel the Orchestrator drains to aggregate progress.
func (p *Pool) Completions() <-chan Outcome {
	return p.completions
}

func (p *Pool) isCancelled() bool {
	p.cancelMu.RLock()
	defer p.cancelMu.RUnlock()
	return p.cancelled
}

func workerID(i int) string {
	return "worker-" + strconv.Itoa(i)
}
