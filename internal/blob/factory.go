package blob

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Config selects and locates a blob backend.
type Config struct {
	Driver Driver
	FSRoot string
	S3     S3Config
}

// ConfigFromEnv reads the blob backend selection from the environment.
//
//	ROADCORE_BLOB_DRIVER: fs|s3|memory (default fs)
//	ROADCORE_BLOB_FS_ROOT: directory root when driver=fs (default ./archives)
//	ROADCORE_BLOB_S3_BUCKET: bucket when driver=s3 (required)
//	ROADCORE_BLOB_S3_REGION: region (default us-east-1)
//	ROADCORE_BLOB_S3_ENDPOINT: custom endpoint, e.g. MinIO
//	ROADCORE_BLOB_S3_PATH_STYLE: true|false (default false)
//	ROADCORE_BLOB_S3_ACCESS_KEY / ROADCORE_BLOB_S3_SECRET_KEY: static credentials
//	  (optional, otherwise the AWS default chain)
func ConfigFromEnv() Config {
	cfg := Config{
		Driver: Driver(os.Getenv("ROADCORE_BLOB_DRIVER")),
		FSRoot: os.Getenv("ROADCORE_BLOB_FS_ROOT"),
		S3: S3Config{
			Bucket:    os.Getenv("ROADCORE_BLOB_S3_BUCKET"),
			Region:    os.Getenv("ROADCORE_BLOB_S3_REGION"),
			Endpoint:  os.Getenv("ROADCORE_BLOB_S3_ENDPOINT"),
			PathStyle: strings.EqualFold(os.Getenv("ROADCORE_BLOB_S3_PATH_STYLE"), "true"),

			AccessKeyID:     os.Getenv("ROADCORE_BLOB_S3_ACCESS_KEY"),
			SecretAccessKey: os.Getenv("ROADCORE_BLOB_S3_SECRET_KEY"),
		},
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverFilesystem
	}
	return cfg
}

// Open returns the backend described by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverFilesystem, "":
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		if cfg.S3.Bucket == "" {
			return nil, fmt.Errorf("s3 blob driver requires a bucket")
		}
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}

// OpenFromEnv selects a backend using environment variables.
func OpenFromEnv(ctx context.Context) (Store, error) {
	return Open(ctx, ConfigFromEnv())
}
