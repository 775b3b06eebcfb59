package transfer

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"morphicutil/internal/blob"
)

// flakyStore fails Copy for keys containing "bad".
type flakyStore struct {
	blob.Store
	copies atomic.Int32
}

func (s *flakyStore) Copy(ctx context.Context, src, dst string) (blob.Info, error) {
	s.copies.Add(1)
	if strings.Contains(src, "bad") {
		return blob.Info{}, errors.New("copy refused")
	}
	return s.Store.Copy(ctx, src, dst)
}

func seed(t *testing.T, store blob.Store, objects map[string]string) {
	t.Helper()
	for k, v := range objects {
		if _, err := store.Put(context.Background(), k, strings.NewReader(v), blob.PutOptions{}); err != nil {
			t.Fatalf("seed %s: %v", k, err)
		}
	}
}

func TestMoveCopiesEveryObjectAndCollectsFailures(t *testing.T) {
	store := &flakyStore{Store: blob.NewMemory()}
	seed(t, store, map[string]string{
		"area-a/r1.fastq.gz":  "AAAA",
		"area-a/r2.fastq.gz":  "CC",
		"area-a/bad.fastq.gz": "G",
		"area-b/other":        "T",
	})
	report, err := NewMover(store, 2).Move(context.Background(), "area-a/", "DS1/")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if store.copies.Load() != 3 {
		t.Fatalf("expected a copy attempt per source object, got %d", store.copies.Load())
	}
	if len(report.Moved) != 2 || report.Moved[0] != "DS1/r1.fastq.gz" || report.Bytes != 6 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.OK() || len(report.Failed) != 1 || report.Failed[0].Key != "area-a/bad.fastq.gz" {
		t.Fatalf("expected one failure, got %+v", report.Failed)
	}
	if _, err := store.Head(context.Background(), "area-a/r1.fastq.gz"); err != nil {
		t.Fatalf("source must be kept: %v", err)
	}
	if got := report.String(); got != "2 files, 6 B transferred; 1 file failed" {
		t.Fatalf("unexpected summary %q", got)
	}
}

func TestMoveCancelled(t *testing.T) {
	store := blob.NewMemory()
	seed(t, store, map[string]string{"a/x": "1"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := NewMover(store, 0).Move(ctx, "a/", "b/")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(report.Moved) != 0 {
		t.Fatalf("nothing should move after cancellation: %+v", report)
	}
}

func TestUploadRecordsChecksum(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r1.fastq.gz")
	if err := os.WriteFile(path, []byte("hello"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	store := blob.NewMemory()
	up := NewUploader(store, 1, false)
	report, err := up.Upload(context.Background(), "DS1/", []string{path, filepath.Join(dir, "missing.fastq")})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(report.Moved) != 1 || len(report.Failed) != 1 || report.Failed[0].Key != "DS1/missing.fastq" {
		t.Fatalf("unexpected report %+v", report)
	}
	info, rc, err := store.Get(context.Background(), "DS1/r1.fastq.gz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "hello" || info.Metadata[MD5MetadataKey] != "5d41402abc4b2a76b9719d911017c592" || info.ContentType != "application/gzip" {
		t.Fatalf("unexpected object %+v %q", info, body)
	}

	again, _ := up.Upload(context.Background(), "DS1/", []string{path})
	if len(again.Failed) != 1 || !errors.Is(again.Failed[0].Err, blob.ErrExists) {
		t.Fatalf("expected ErrExists without overwrite, got %+v", again)
	}
	if replaced, _ := NewUploader(store, 1, true).Upload(context.Background(), "DS1/", []string{path}); !replaced.OK() {
		t.Fatalf("overwrite upload failed: %+v", replaced)
	}
}
