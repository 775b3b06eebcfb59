package blob

import (
	"context"
	"fmt"
	"os"
)

// Config selects and configures a backend. Zero fields fall back to the
// environment:
//
//	MORPHIC_BLOB_DRIVER   fs|s3|memory (default fs)
//	MORPHIC_BLOB_FS_ROOT  directory root when driver=fs (default ./upload-area)
//	MORPHIC_BLOB_S3_*     see internal/infra/blob/s3
type Config struct {
	Driver Driver
	FSRoot string
	S3     S3Config
}

func (c Config) withEnv() Config {
	if c.Driver == "" {
		c.Driver = Driver(os.Getenv("MORPHIC_BLOB_DRIVER"))
	}
	if c.Driver == "" {
		c.Driver = DriverFilesystem
	}
	if c.FSRoot == "" {
		c.FSRoot = os.Getenv("MORPHIC_BLOB_FS_ROOT")
	}
	if c.S3.Bucket == "" {
		env := s3ConfigFromEnv()
		env.AccessKeyID, env.SecretAccessKey, env.SessionToken = c.S3.AccessKeyID, c.S3.SecretAccessKey, c.S3.SessionToken
		env.HTTPClient = c.S3.HTTPClient
		c.S3 = env
	}
	return c
}

// Open constructs the Store described by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	cfg = cfg.withEnv()
	switch cfg.Driver {
	case DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}
