// Package config centralizes the recognized options into a single record
// injected into the engine at construction — no ambient process-wide
// configuration state beyond this. Follows pudd's flag-registration
// style, extended with an optional .env load the way other services in
// this style load one before flag.Parse().
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/joho/godotenv"
)

const minPartSize = 5 * 1024 * 1024 // S3 multipart minimum part size

type Config struct {
	DBPath string

	ChunkSize          int64
	WorkerConcurrency  int
	MonitorInterval    time.Duration
	StabilityThreshold time.Duration
	PartRetryAttempts  int
	VerifyOnRecovery   bool

	ObjectStoreEndpoint string
	ObjectStoreRegion   string
	AccessKeyID         string
	SecretAccessKey     string
	UsePathStyleS3      bool

	HTTPAddr string
}

// FromFlags registers and parses the recognized options, loading a .env
// file into the process environment first (if present). The flags do not
// read the environment: each option comes from the command line or the
// default below. Variables from .env reach only code that reads the
// environment itself, such as the AWS SDK's default credential chain.
func FromFlags() Config {
	_ = godotenv.Load()

	var cfg Config
	flag.StringVar(&cfg.DBPath, "db", "./uploadengine.db", "path to the sqlite state store")

	flag.Int64Var(&cfg.ChunkSize, "chunk-size", minPartSize, "multipart part size in bytes (must be >= 5 MiB)")
	flag.IntVar(&cfg.WorkerConcurrency, "workers", 5, "worker pool capacity (W)")
	flag.DurationVar(&cfg.MonitorInterval, "monitor-interval", 60*time.Second, "interval between monitor ticks, as a duration such as 60s (0 disables the monitor)")
	flag.DurationVar(&cfg.StabilityThreshold, "stability-threshold", 2*time.Second, "how long a file's mtime must be stable before the monitor considers it, as a duration such as 2s")
	flag.IntVar(&cfg.PartRetryAttempts, "part-retry-attempts", 3, "max transient-error retries per part")
	flag.BoolVar(&cfg.VerifyOnRecovery, "verify-on-recovery", false, "head_object every UPLOADED file on startup recovery and requeue it if missing")

	flag.StringVar(&cfg.ObjectStoreEndpoint, "object-store-endpoint", "", "S3-compatible endpoint (empty selects AWS S3 default)")
	flag.StringVar(&cfg.ObjectStoreRegion, "object-store-region", "us-east-1", "object-store region")
	flag.StringVar(&cfg.AccessKeyID, "access-key-id", "", "object-store access key id (empty uses ambient AWS credentials)")
	flag.StringVar(&cfg.SecretAccessKey, "secret-access-key", "", "object-store secret access key")
	flag.BoolVar(&cfg.UsePathStyleS3, "path-style", true, "use path-style addressing (required by most S3-compatible services)")

	flag.StringVar(&cfg.HTTPAddr, "http-addr", ":8080", "listen address for the job-submission/status HTTP surface")

	flag.Parse()

	return cfg
}

// Validate enforces the invariants the recognized options must satisfy.
func (c Config) Validate() error {
	if c.ChunkSize < minPartSize {
		return fmt.Errorf("config: chunk-size %d below object-store minimum part size %d", c.ChunkSize, minPartSize)
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("config: workers must be >= 1, got %d", c.WorkerConcurrency)
	}
	if c.PartRetryAttempts < 0 {
		return fmt.Errorf("config: part-retry-attempts must be >= 0, got %d", c.PartRetryAttempts)
	}
	return nil
}
