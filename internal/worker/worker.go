package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"uploadengine/internal/model"
	"uploadengine/internal/objectstore"
	"uploadengine/internal/store"
)

func runWorker(ctx context.Context, p *Pool, id string) {
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.handleTask(ctx, id, task)
		}
	}
}

func (p *Pool) handleTask(ctx context.Context, workerID string, task Task) {
	f, err := store.ClaimNextPendingFile(p.db, task.JobID)
	if err != nil {
		p.logger.Errorw("claim failed", "worker", workerID, "job_id", task.JobID, "error", err)
		return
	}
	if f == nil {
		// Another worker already claimed the only pending file, or the
		// ticket was stale (e.g. the file was claimed and finished between
		// enqueue and dequeue). Not an error.
		return
	}

	job, err := store.GetJob(p.db, f.UploadJobID)
	if err != nil {
		p.logger.Errorw("job lookup failed", "worker", workerID, "job_id", f.UploadJobID, "file_id", f.ID, "error", err)
		p.fail(ctx, workerID, task.JobID, *f, fmt.Sprintf("job lookup failed: %v", err))
		return
	}

	p.uploadFile(ctx, workerID, job, *f)
}

func (p *Pool) fail(ctx context.Context, workerID, jobID string, f model.File, reason string) {
	if err := store.MarkFile(p.db, f.ID, model.FileFailed, reason); err != nil {
		p.logger.Errorw("mark failed file error", "worker", workerID, "file_id", f.ID, "error", err)
	}
	p.logger.Warnw("file failed", "worker", workerID, "job_id", jobID, "file_id", f.ID, "path", f.Path, "reason", reason)
	p.emit(ctx, Outcome{JobID: jobID, FileID: f.ID, Success: false})
}

func (p *Pool) emit(ctx context.Context, o Outcome) {
	select {
	case p.completions <- o:
	case <-ctx.Done():
	}
}

// uploadFile stats the local file, reconciles it against the claimed row,
// uploads it whole or in parts depending on size, verifies the result
// against the object store, and commits the terminal state.
func (p *Pool) uploadFile(ctx context.Context, workerID string, job model.UploadJob, f model.File) {
	localPath := filepath.Join(job.SourceFolder, filepath.FromSlash(f.Path))

	info, err := os.Stat(localPath)
	if err != nil {
		p.fail(ctx, workerID, job.ID, f, fmt.Sprintf("source missing: %v", err))
		return
	}

	mtime := info.ModTime()
	size := info.Size()
	if !mtime.Equal(f.MTime) || size != f.Size {
		if err := store.UpdateFileStatInProgress(p.db, f.ID, mtime, size); err != nil {
			p.logger.Errorw("update stat failed", "worker", workerID, "file_id", f.ID, "error", err)
		}
		f.MTime, f.Size = mtime, size
	}

	key := ObjectKey(job.ID, f.Path)

	p.logger.Infow("upload starting", "worker", workerID, "job_id", job.ID, "file_id", f.ID, "path", f.Path, "size", f.Size, "key", key)
	start := time.Now()

	var uploadErr error
	if f.Size <= p.cfg.ChunkSize {
		uploadErr = p.singleShotUpload(ctx, job.DestinationBucket, key, localPath)
	} else {
		uploadErr = p.multipartUpload(ctx, workerID, job.DestinationBucket, key, localPath, f.Size)
	}
	if uploadErr != nil {
		p.fail(ctx, workerID, job.ID, f, uploadErr.Error())
		return
	}

	if ctx.Err() != nil {
		// Cancelled between the upload completing and verification; leave
		// the row IN_PROGRESS for the next recovery pass rather than
		// committing a verification we didn't actually perform.
		return
	}

	info2, err := p.objStore.HeadObject(ctx, job.DestinationBucket, key)
	if err != nil {
		p.fail(ctx, workerID, job.ID, f, fmt.Sprintf("verify failed: %v", err))
		return
	}
	if info2.Size != f.Size {
		_ = p.objStore.DeleteObject(ctx, job.DestinationBucket, key)
		p.fail(ctx, workerID, job.ID, f, "size mismatch after upload")
		return
	}

	if err := store.MarkFile(p.db, f.ID, model.FileUploaded, ""); err != nil {
		p.logger.Errorw("commit upload failed", "worker", workerID, "file_id", f.ID, "error", err)
		return
	}

	p.logger.Infow("upload done", "worker", workerID, "job_id", job.ID, "file_id", f.ID, "path", f.Path, "duration", time.Since(start))
	p.emit(ctx, Outcome{JobID: job.ID, FileID: f.ID, Success: true})
}

// ObjectKey is the object-store key layout: {job_id}/{path}, forward-slash
// normalized, no leading slash.
func ObjectKey(jobID, path string) string {
	return jobID + "/" + filepath.ToSlash(path)
}

func (p *Pool) singleShotUpload(ctx context.Context, bucket, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = p.objStore.PutObject(ctx, bucket, key, f)
	if err != nil {
		return fmt.Errorf("put_object: %w", err)
	}
	return nil
}

// multipartUpload splits the file into contiguous chunk-size parts and
// uploads them sequentially — concurrency across a job's files comes from
// running several Workers, not from parallelizing one file's parts — so a
// Worker holds at most one chunk in memory at a time.
func (p *Pool) multipartUpload(ctx context.Context, workerID, bucket, key, localPath string, size int64) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	uploadID, err := p.objStore.InitiateMultipart(ctx, bucket, key)
	if err != nil {
		return fmt.Errorf("initiate_multipart: %w", err)
	}

	chunkSize := p.cfg.ChunkSize
	numParts := int((size + chunkSize - 1) / chunkSize)
	parts := make([]objectstore.Part, 0, numParts)
	buf := make([]byte, chunkSize)

	for partNumber := int32(1); int(partNumber) <= numParts; partNumber++ {
		if p.isCancelled() || ctx.Err() != nil {
			_ = p.objStore.AbortMultipart(ctx, bucket, key, uploadID)
			return ctx.Err()
		}

		offset := int64(partNumber-1) * chunkSize
		partLen := chunkSize
		if offset+partLen > size {
			partLen = size - offset
		}

		n, err := io.ReadFull(f, buf[:partLen])
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			_ = p.objStore.AbortMultipart(ctx, bucket, key, uploadID)
			return fmt.Errorf("read part %d: %w", partNumber, err)
		}

		etag, err := p.putPartWithRetry(ctx, workerID, bucket, key, uploadID, partNumber, buf[:n])
		if err != nil {
			_ = p.objStore.AbortMultipart(ctx, bucket, key, uploadID)
			return err
		}
		parts = append(parts, objectstore.Part{PartNumber: partNumber, ETag: etag})
	}

	if _, err := p.objStore.CompleteMultipart(ctx, bucket, key, uploadID, parts); err != nil {
		_ = p.objStore.AbortMultipart(ctx, bucket, key, uploadID)
		return fmt.Errorf("complete_multipart: %w", err)
	}
	return nil
}

// putPartWithRetry retries a transient part failure up to
// cfg.PartRetryAttempts times with exponential backoff (0.5s, 1s, 2s, ...).
// A Permanent error, or exhaustion of the retry budget, returns immediately
// so the caller can abort the multipart upload.
func (p *Pool) putPartWithRetry(ctx context.Context, workerID, bucket, key, uploadID string, partNumber int32, chunk []byte) (string, error) {
	var lastErr error
	backoff := 500 * time.Millisecond

	for attempt := 0; attempt <= p.cfg.PartRetryAttempts; attempt++ {
		body := &seekableBytes{b: chunk}
		etag, err := p.objStore.PutPart(ctx, bucket, key, uploadID, partNumber, body)
		if err == nil {
			return etag, nil
		}
		lastErr = err

		if objectstore.ClassOf(err) != objectstore.Transient {
			return "", fmt.Errorf("put_part %d: %w", partNumber, err)
		}
		if attempt == p.cfg.PartRetryAttempts {
			break
		}

		p.logger.Warnw("transient part failure, retrying", "worker", workerID, "part", partNumber, "attempt", attempt+1, "error", err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		backoff *= 2
	}
	return "", fmt.Errorf("put_part %d: exhausted retries: %w", partNumber, lastErr)
}

// seekableBytes adapts an in-memory chunk to io.ReadSeeker, which the AWS
// SDK requires to compute a Content-Length and to retry the HTTP request
// internally on a connection failure.
type seekableBytes struct {
	b   []byte
	pos int
}

func (s *seekableBytes) Read(p []byte) (int, error) {
	if s.pos >= len(s.b) {
		return 0, io.EOF
	}
	n := copy(p, s.b[s.pos:])
	s.pos += n
	return n, nil
}

func (s *seekableBytes) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = int64(s.pos) + offset
	case io.SeekEnd:
		newPos = int64(len(s.b)) + offset
	}
	if newPos < 0 || newPos > int64(len(s.b)) {
		return 0, fmt.Errorf("seekableBytes: invalid seek to %d", newPos)
	}
	s.pos = int(newPos)
	return newPos, nil
}
