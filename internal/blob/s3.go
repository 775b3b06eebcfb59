package blob

import (
	"context"

	infraS3 "morphicutil/internal/infra/blob/s3"
)

// S3Config configures the S3 backend.
type S3Config = infraS3.Config

// NewS3 constructs an S3-backed Store.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	store, err := infraS3.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func s3ConfigFromEnv() S3Config { return infraS3.ConfigFromEnv() }
