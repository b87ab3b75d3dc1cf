package worker

import (
	"context"
	"fmt"
	"io"
	"sync"

	"uploadengine/internal/objectstore"
)

// fakeStore is a hand-written in-memory objectstore.Store used instead of
// a real S3-compatible service in tests. It tracks completed objects and
// can be told to fail the next N part uploads with a transient error, to
// exercise putPartWithRetry without a live network dependency.
type fakeStore struct {
	mu sync.Mutex

	objects map[string][]byte
	uploads map[string]map[int32][]byte

	failNextParts int
	permanentFail bool
	missingBucket string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects: make(map[string][]byte),
		uploads: make(map[string]map[int32][]byte),
	}
}

func objKey(bucket, key string) string { return bucket + "/" + key }

func (f *fakeStore) InitiateMultipart(ctx context.Context, bucket, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	uploadID := fmt.Sprintf("upload-%d", len(f.uploads)+1)
	f.uploads[uploadID] = make(map[int32][]byte)
	return uploadID, nil
}

func (f *fakeStore) PutPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, body io.ReadSeeker) (string, error) {
	f.mu.Lock()
	if f.failNextParts > 0 {
		f.failNextParts--
		f.mu.Unlock()
		return "", &objectstore.ClassifiedError{Class: objectstore.Transient, Err: fmt.Errorf("simulated transient part failure")}
	}
	if f.permanentFail {
		f.mu.Unlock()
		return "", &objectstore.ClassifiedError{Class: objectstore.Permanent, Err: fmt.Errorf("simulated permanent part failure")}
	}
	f.mu.Unlock()

	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	f.uploads[uploadID][partNumber] = data
	f.mu.Unlock()
	return fmt.Sprintf("etag-%d", partNumber), nil
}

func (f *fakeStore) CompleteMultipart(ctx context.Context, bucket, key, uploadID string, parts []objectstore.Part) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts2 := f.uploads[uploadID]
	var whole []byte
	for i := 1; i <= len(parts); i++ {
		whole = append(whole, parts2[int32(i)]...)
	}
	f.objects[objKey(bucket, key)] = whole
	delete(f.uploads, uploadID)
	return "etag-complete", nil
}

func (f *fakeStore) AbortMultipart(ctx context.Context, bucket, key, uploadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.uploads, uploadID)
	return nil
}

func (f *fakeStore) HeadObject(ctx context.Context, bucket, key string) (objectstore.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[objKey(bucket, key)]
	if !ok {
		return objectstore.ObjectInfo{}, objectstore.ErrNotFound
	}
	return objectstore.ObjectInfo{Size: int64(len(data)), ETag: "etag"}, nil
}

func (f *fakeStore) PutObject(ctx context.Context, bucket, key string, body io.ReadSeeker) (string, error) {
	f.mu.Lock()
	if f.permanentFail {
		f.mu.Unlock()
		return "", &objectstore.ClassifiedError{Class: objectstore.Permanent, Err: fmt.Errorf("simulated permanent put failure")}
	}
	f.mu.Unlock()

	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	f.objects[objKey(bucket, key)] = data
	f.mu.Unlock()
	return "etag", nil
}

func (f *fakeStore) DeleteObject(ctx context.Context, bucket, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, objKey(bucket, key))
	return nil
}

func (f *fakeStore) HeadBucket(ctx context.Context, bucket string) error {
	if bucket == f.missingBucket {
		return objectstore.ErrNotFound
	}
	return nil
}
