// Package objectstore wraps exactly the surface the Worker needs from an
// S3-compatible service: initiate/put-part/complete/abort multipart,
// head-object, put-object and delete-object, plus head-bucket for the
// Orchestrator's up-front bucket probe. Modeled on the custom-endpoint,
// path-style S3 client the pack wires repeatedly
// (rohits-web03-obscyra-server/internal/repositories/r2.go,
// other_examples/airoa-org-robot_data_autouploader__upload.go) — any
// S3-compatible service (AWS S3, R2, MinIO, LocalStack) is reachable by
// pointing Config.Endpoint at it.
package objectstore

import (
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Config configures the underlying S3 client.
type Config struct {
	Region          string
	Endpoint        string // non-empty selects a custom (S3-compatible) endpoint
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// ObjectInfo is the result of a successful head_object.
type ObjectInfo struct {
	Size int64
	ETag string
}

// Part is one completed part of a multipart upload.
type Part struct {
	PartNumber int32
	ETag       string
}

// Store is the multipart-upload protocol surface an upload worker needs
// from an object-store adapter.
type Store interface {
	InitiateMultipart(ctx context.Context, bucket, key string) (uploadID string, err error)
	PutPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, body io.ReadSeeker) (etag string, err error)
	CompleteMultipart(ctx context.Context, bucket, key, uploadID string, parts []Part) (etag string, err error)
	AbortMultipart(ctx context.Context, bucket, key, uploadID string) error
	HeadObject(ctx context.Context, bucket, key string) (ObjectInfo, error)
	PutObject(ctx context.Context, bucket, key string, body io.ReadSeeker) (etag string, err error)
	DeleteObject(ctx context.Context, bucket, key string) error
	HeadBucket(ctx context.Context, bucket string) error
}

type s3Store struct {
	client *s3.Client
}

// New builds a Store backed by aws-sdk-go-v2's S3 client, following the
// static-credentials + custom-BaseEndpoint wiring in r2.go.
func New(ctx context.Context, cfg Config) (Store, error) {
	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" {
		awsCfg = aws.Config{
			Region:      cfg.Region,
			Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		}
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, err
		}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &s3Store{client: client}, nil
}

func (s *s3Store) InitiateMultipart(ctx context.Context, bucket, key string) (string, error) {
	out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", classify(err)
	}
	return aws.ToString(out.UploadId), nil
}

func (s *s3Store) PutPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, body io.ReadSeeker) (string, error) {
	out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(partNumber),
		Body:       body,
	})
	if err != nil {
		return "", classify(err)
	}
	return aws.ToString(out.ETag), nil
}

func (s *s3Store) CompleteMultipart(ctx context.Context, bucket, key, uploadID string, parts []Part) (string, error) {
	completed := make([]s3types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = s3types.CompletedPart{
			PartNumber: aws.Int32(p.PartNumber),
			ETag:       aws.String(p.ETag),
		}
	}
	out, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		return "", classify(err)
	}
	return aws.ToString(out.ETag), nil
}

func (s *s3Store) AbortMultipart(ctx context.Context, bucket, key, uploadID string) error {
	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

func (s *s3Store) HeadObject(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *s3types.NotFound
		if errors.As(err, &notFound) {
			return ObjectInfo{}, ErrNotFound
		}
		return ObjectInfo{}, classify(err)
	}
	return ObjectInfo{
		Size: aws.ToInt64(out.ContentLength),
		ETag: aws.ToString(out.ETag),
	}, nil
}

func (s *s3Store) PutObject(ctx context.Context, bucket, key string, body io.ReadSeeker) (string, error) {
	out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return "", classify(err)
	}
	return aws.ToString(out.ETag), nil
}

func (s *s3Store) DeleteObject(ctx context.Context, bucket, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

func (s *s3Store) HeadBucket(ctx context.Context, bucket string) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		var notFound *s3types.NotFound
		if errors.As(err, &notFound) {
			return ErrNotFound
		}
		return classify(err)
	}
	return nil
}
