package orchestrator

import (
	"context"
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"uploadengine/internal/config"
	"uploadengine/internal/model"
	"uploadengine/internal/objectstore"
	"uploadengine/internal/store"
	"uploadengine/internal/worker"
)

// fakePool stands in for worker.Pool: Submit immediately claims and
// "uploads" the file synchronously via a fake object store, then posts an
// Outcome — enough to exercise the Orchestrator's own logic without a
// real worker pool's goroutines.
type fakePool struct {
	mu          sync.Mutex
	db          *sql.DB
	objStore    objectstore.Store
	completions chan worker.Outcome
}

func newFakePool(db *sql.DB, objStore objectstore.Store) *fakePool {
	return &fakePool{db: db, objStore: objStore, completions: make(chan worker.Outcome, 64)}
}

func (p *fakePool) Submit(ctx context.Context, jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := store.ClaimNextPendingFile(p.db, jobID)
	if err != nil || f == nil {
		return err
	}
	job, err := store.GetJob(p.db, jobID)
	if err != nil {
		return err
	}

	local := filepath.Join(job.SourceFolder, f.Path)
	data, err := os.ReadFile(local)
	if err != nil {
		_ = store.MarkFile(p.db, f.ID, model.FileFailed, err.Error())
		p.completions <- worker.Outcome{JobID: jobID, FileID: f.ID, Success: false}
		return nil
	}

	key := worker.ObjectKey(jobID, f.Path)
	if _, err := p.objStore.PutObject(ctx, job.DestinationBucket, key, &bytesReadSeeker{b: data}); err != nil {
		_ = store.MarkFile(p.db, f.ID, model.FileFailed, err.Error())
		p.completions <- worker.Outcome{JobID: jobID, FileID: f.ID, Success: false}
		return nil
	}

	_ = store.MarkFile(p.db, f.ID, model.FileUploaded, "")
	p.completions <- worker.Outcome{JobID: jobID, FileID: f.ID, Success: true}
	return nil
}

func (p *fakePool) Completions() <-chan worker.Outcome { return p.completions }

type bytesReadSeeker struct {
	b   []byte
	pos int
}

func (r *bytesReadSeeker) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}

func (r *bytesReadSeeker) Seek(offset int64, whence int) (int64, error) {
	r.pos = int(offset)
	return int64(r.pos), nil
}

// fakeObjStore is the minimal objectstore.Store a test needs: put/head/
// delete; the multipart methods are unused by these tests and panic if called.
type fakeObjStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	noBuck  string
}

func newFakeObjStore() *fakeObjStore { return &fakeObjStore{objects: map[string][]byte{}} }

func (f *fakeObjStore) InitiateMultipart(ctx context.Context, bucket, key string) (string, error) {
	panic("not used in these tests")
}
func (f *fakeObjStore) PutPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, body io.ReadSeeker) (string, error) {
	panic("not used in these tests")
}
func (f *fakeObjStore) AbortMultipart(ctx context.Context, bucket, key, uploadID string) error {
	panic("not used in these tests")
}
func (f *fakeObjStore) CompleteMultipart(ctx context.Context, bucket, key, uploadID string, parts []objectstore.Part) (string, error) {
	panic("not used in these tests")
}
func (f *fakeObjStore) PutObject(ctx context.Context, bucket, key string, body io.ReadSeeker) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[bucket+"/"+key] = data
	return "etag", nil
}
func (f *fakeObjStore) DeleteObject(ctx context.Context, bucket, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, bucket+"/"+key)
	return nil
}
func (f *fakeObjStore) HeadObject(ctx context.Context, bucket, key string) (objectstore.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return objectstore.ObjectInfo{}, objectstore.ErrNotFound
	}
	return objectstore.ObjectInfo{Size: int64(len(data))}, nil
}
func (f *fakeObjStore) HeadBucket(ctx context.Context, bucket string) error {
	if bucket == f.noBuck {
		return objectstore.ErrNotFound
	}
	return nil
}

func testOrchestratorDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := store.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.Init(db))
	return db
}

func TestProcessJobExpandsAndFinalizesCompleted(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hi"), 0o644))

	db := testOrchestratorDB(t)
	require.NoError(t, store.CreateJob(db, model.UploadJob{ID: "job-1", SourceFolder: dir, DestinationBucket: "bkt"}))

	objStore := newFakeObjStore()
	pool := newFakePool(db, objStore)
	orch := New(config.Config{}, db, objStore, pool, zap.NewNop().Sugar())

	require.NoError(t, orch.ProcessJob(context.Background(), "job-1"))

	select {
	case outcome := <-pool.Completions():
		orch.finalizeJob(context.Background(), outcome.JobID)
	case <-time.After(time.Second):
		t.Fatal("expected a completion outcome")
	}

	job, err := store.GetJob(db, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, job.State)
}

func TestProcessJobFailsWhenBucketMissing(t *testing.T) {
	dir := t.TempDir()
	db := testOrchestratorDB(t)
	require.NoError(t, store.CreateJob(db, model.UploadJob{ID: "job-2", SourceFolder: dir, DestinationBucket: "gone"}))

	objStore := newFakeObjStore()
	objStore.noBuck = "gone"
	pool := newFakePool(db, objStore)
	orch := New(config.Config{}, db, objStore, pool, zap.NewNop().Sugar())

	err := orch.ProcessJob(context.Background(), "job-2")
	assert.Error(t, err)

	job, err := store.GetJob(db, "job-2")
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, job.State)
}

func TestRecoveryPassResetsInProgressFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hi"), 0o644))

	db := testOrchestratorDB(t)
	require.NoError(t, store.CreateJob(db, model.UploadJob{ID: "job-3", SourceFolder: dir, DestinationBucket: "bkt"}))
	require.NoError(t, store.SetJobState(db, "job-3", model.JobInProgress))
	_, err := store.CreateFilesBulk(db, "job-3", []store.FileStat{{Path: "a.txt", MTime: time.Now(), Size: 2}})
	require.NoError(t, err)
	f, err := store.ClaimNextPendingFile(db, "job-3")
	require.NoError(t, err)
	require.NotNil(t, f)

	objStore := newFakeObjStore()
	pool := newFakePool(db, objStore)
	orch := New(config.Config{}, db, objStore, pool, zap.NewNop().Sugar())

	require.NoError(t, orch.RecoveryPass(context.Background()))

	files, err := store.ListFiles(db, "job-3")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, model.FilePending, files[0].State)
}

func TestRetryJobClearsFailedFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hi"), 0o644))

	db := testOrchestratorDB(t)
	require.NoError(t, store.CreateJob(db, model.UploadJob{ID: "job-4", SourceFolder: dir, DestinationBucket: "bkt"}))
	_, err := store.CreateFilesBulk(db, "job-4", []store.FileStat{{Path: "a.txt", MTime: time.Now(), Size: 2}})
	require.NoError(t, err)
	files, err := store.ListFiles(db, "job-4")
	require.NoError(t, err)
	require.NoError(t, store.MarkFile(db, files[0].ID, model.FileFailed, "boom"))

	objStore := newFakeObjStore()
	pool := newFakePool(db, objStore)
	orch := New(config.Config{}, db, objStore, pool, zap.NewNop().Sugar())

	require.NoError(t, orch.RetryJob(context.Background(), "job-4"))

	remaining, err := store.ListFiles(db, "job-4")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.NotEqual(t, model.FileFailed, remaining[0].State, "retry must re-discover the file fresh, not reuse the failed row")
	assert.Empty(t, remaining[0].FailureReason)
}
