// Package transfer moves data into and between upload areas with a bounded
// worker pool.
package transfer

import (
	"context"
	"crypto/md5" //nolint:gosec // upload-area checksum, not a security boundary
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"morphicutil/internal/blob"
)

// MD5MetadataKey is the object metadata key holding the upload checksum.
const MD5MetadataKey = "md5"

// Failure records one object that could not be transferred.
type Failure struct {
	Key string
	Err error
}

// Report summarises a transfer. Moved is sorted by key.
type Report struct {
	Moved  []string
	Failed []Failure
	Bytes  int64
}

// OK reports whether every object was transferred.
func (r Report) OK() bool { return len(r.Failed) == 0 }

// String renders a one-line summary such as "3 files, 1.2 MB transferred".
func (r Report) String() string {
	s := fmt.Sprintf("%s, %s transferred", files(len(r.Moved)), humanize.Bytes(uint64(max(r.Bytes, 0))))
	if len(r.Failed) > 0 {
		s += fmt.Sprintf("; %s failed", files(len(r.Failed)))
	}
	return s
}

func files(n int) string {
	if n == 1 {
		return "1 file"
	}
	return fmt.Sprintf("%d files", n)
}

// collector is shared by the workers of one transfer.
type collector struct {
	mu     sync.Mutex
	report Report
}

func (c *collector) ok(key string, size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.report.Moved = append(c.report.Moved, key)
	c.report.Bytes += size
}

func (c *collector) fail(key string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.report.Failed = append(c.report.Failed, Failure{Key: key, Err: err})
}

func (c *collector) done() Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	slices.Sort(c.report.Moved)
	slices.SortFunc(c.report.Failed, func(a, b Failure) int { return strings.Compare(a.Key, b.Key) })
	return c.report
}

func newGroup(ctx context.Context, workers int) (*errgroup.Group, context.Context) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	return g, gctx
}

// Mover copies objects between prefixes of one store.
type Mover struct {
	store   blob.Store
	workers int
}

// NewMover returns a Mover using up to workers goroutines; zero means one
// per CPU.
func NewMover(store blob.Store, workers int) *Mover {
	return &Mover{store: store, workers: workers}
}

// Move copies every object below src to the same relative key below dst.
// Source objects are left in place. Per-object failures are collected and
// never stop the other copies; only listing or cancellation returns an error.
func (m *Mover) Move(ctx context.Context, src, dst string) (Report, error) {
	objects, err := m.store.List(ctx, src)
	if err != nil {
		return Report{}, fmt.Errorf("list %s: %w", src, err)
	}
	var c collector
	g, gctx := newGroup(ctx, m.workers)
	for _, obj := range objects {
		rel := strings.TrimPrefix(obj.Key, src)
		if rel == "" || strings.HasSuffix(obj.Key, "/") {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				c.fail(obj.Key, err)
				return nil
			}
			info, err := m.store.Copy(gctx, obj.Key, dst+rel)
			if err != nil {
				c.fail(obj.Key, err)
				return nil
			}
			c.ok(info.Key, info.Size)
			return nil
		})
	}
	_ = g.Wait()
	return c.done(), ctx.Err()
}

// Uploader puts local files into a dataset's upload area.
type Uploader struct {
	store     blob.Store
	workers   int
	overwrite bool
}

// NewUploader returns an Uploader. Existing objects are replaced only when
// overwrite is set.
func NewUploader(store blob.Store, workers int, overwrite bool) *Uploader {
	return &Uploader{store: store, workers: workers, overwrite: overwrite}
}

// Upload stores each path under prefix using its base name. The MD5 of the
// content is recorded in the object metadata.
func (u *Uploader) Upload(ctx context.Context, prefix string, paths []string) (Report, error) {
	var c collector
	g, gctx := newGroup(ctx, u.workers)
	for _, p := range paths {
		key := prefix + filepath.Base(p)
		g.Go(func() error {
			size, err := u.uploadFile(gctx, key, p)
			if err != nil {
				c.fail(key, err)
				return nil
			}
			c.ok(key, size)
			return nil
		})
	}
	_ = g.Wait()
	return c.done(), ctx.Err()
}

func (u *Uploader) uploadFile(ctx context.Context, key, path string) (int64, error) {
	sum, err := fileMD5(path)
	if err != nil {
		return 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()
	info, err := u.store.Put(ctx, key, f, blob.PutOptions{
		ContentType: contentType(path),
		Metadata:    map[string]string{MD5MetadataKey: sum},
		Overwrite:   u.overwrite,
	})
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := md5.New() //nolint:gosec
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("checksum %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// contentType guesses from the extension; compressed reads default to gzip.
func contentType(path string) string {
	if strings.HasSuffix(path, ".gz") {
		return "application/gzip"
	}
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
