package blob

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestOpenDefaultsToFilesystem(t *testing.T) {
	t.Setenv("MORPHIC_BLOB_DRIVER", "")
	t.Setenv("MORPHIC_BLOB_FS_ROOT", t.TempDir())
	store, err := Open(context.Background(), Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Driver() != DriverFilesystem {
		t.Fatalf("expected fs driver, got %s", store.Driver())
	}
}

func TestOpenExplicitConfigWinsOverEnv(t *testing.T) {
	t.Setenv("MORPHIC_BLOB_DRIVER", "s3")
	store, err := Open(context.Background(), Config{Driver: DriverMemory})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	if _, err := store.Put(ctx, "DS1/a.fastq", strings.NewReader("A"), PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(ctx, "DS1/a.fastq", strings.NewReader("A"), PutOptions{}); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists through facade, got %v", err)
	}
	if _, err := store.Head(ctx, "DS1/b.fastq"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound through facade, got %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "ftp"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestOpenS3RequiresBucket(t *testing.T) {
	t.Setenv("MORPHIC_BLOB_S3_BUCKET", "")
	if _, err := Open(context.Background(), Config{Driver: DriverS3}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}

func TestOpenS3ReadsBucketFromEnv(t *testing.T) {
	t.Setenv("MORPHIC_BLOB_S3_BUCKET", "area")
	t.Setenv("MORPHIC_BLOB_S3_REGION", "us-east-1")
	store, err := Open(context.Background(), Config{Driver: DriverS3, S3: S3Config{AccessKeyID: "AKIA", SecretAccessKey: "SECRET"}})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Driver() != DriverS3 {
		t.Fatalf("expected s3 driver")
	}
}
