package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"morphicutil/internal/blob/core"
)

// fakeBucket serves the path-style S3 subset the store uses.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	copies  []string
}

type fakeObject struct {
	body        []byte
	contentType string
}

func respond(status int, body string, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body)), Header: header}
}

func (f *fakeBucket) RoundTrip(req *http.Request) (*http.Response, error) { //nolint:cyclop
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return f.list(req.URL.Query()), nil
	}
	switch req.Method {
	case http.MethodHead, http.MethodGet:
		obj, ok := f.objects[key]
		if !ok {
			return respond(http.StatusNotFound, "", nil), nil
		}
		header := http.Header{
			"Content-Length": {strconv.Itoa(len(obj.body))},
			"Content-Type":   {obj.contentType},
			"Etag":           {`"` + fmt.Sprintf("etag-%d", len(obj.body)) + `"`},
			"Last-Modified":  {time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).Format(http.TimeFormat)},
		}
		if req.Method == http.MethodHead {
			return respond(http.StatusOK, "", header), nil
		}
		return respond(http.StatusOK, string(obj.body), header), nil
	case http.MethodPut:
		if src := req.Header.Get("X-Amz-Copy-Source"); src != "" {
			unescaped, _ := url.PathUnescape(src)
			srcKey := strings.SplitN(strings.TrimPrefix(unescaped, "/"), "/", 2)[1]
			obj, ok := f.objects[srcKey]
			if !ok {
				return respond(http.StatusNotFound, "<Error><Code>NoSuchKey</Code></Error>", nil), nil
			}
			f.objects[key] = obj
			f.copies = append(f.copies, srcKey+"->"+key)
			return respond(http.StatusOK, `<CopyObjectResult><ETag>"c"</ETag><LastModified>2026-01-02T03:04:05Z</LastModified></CopyObjectResult>`, nil), nil
		}
		body, _ := io.ReadAll(req.Body)
		if dec, ok := decodeChunked(body); ok {
			body = dec
		}
		f.objects[key] = fakeObject{body: body, contentType: req.Header.Get("Content-Type")}
		return respond(http.StatusOK, "", http.Header{"Etag": {`"etag"`}}), nil
	case http.MethodDelete:
		delete(f.objects, key)
		return respond(http.StatusNoContent, "", nil), nil
	}
	return respond(http.StatusNotImplemented, "", nil), nil
}

// list returns one key per page so pagination is exercised.
func (f *fakeBucket) list(q url.Values) *http.Response {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, q.Get("prefix")) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	start := 0
	if tok := q.Get("continuation-token"); tok != "" {
		start, _ = strconv.Atoi(tok)
	}
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><ListBucketResult>`)
	if start+1 < len(keys) {
		fmt.Fprintf(&b, "<IsTruncated>true</IsTruncated><NextContinuationToken>%d</NextContinuationToken>", start+1)
	} else {
		b.WriteString("<IsTruncated>false</IsTruncated>")
	}
	if start < len(keys) {
		k := keys[start]
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><ETag>&quot;e&quot;</ETag><LastModified>2026-01-02T03:04:05Z</LastModified></Contents>", k, len(f.objects[k].body))
	}
	b.WriteString("</ListBucketResult>")
	return respond(http.StatusOK, b.String(), http.Header{"Content-Type": {"application/xml"}})
}

// decodeChunked strips aws-chunked framing, including trailing checksums.
func decodeChunked(b []byte) ([]byte, bool) {
	parts := strings.Split(string(b), "\r\n")
	if len(parts) < 3 {
		return nil, false
	}
	n, err := strconv.ParseInt(strings.SplitN(parts[0], ";", 2)[0], 16, 64)
	if err != nil || n <= 0 || int64(len(parts[1])) != n {
		return nil, false
	}
	if !strings.HasPrefix(parts[2], "0") {
		return nil, false
	}
	return []byte(parts[1]), true
}

func newFakeStore(t *testing.T) (*Store, *fakeBucket) {
	t.Helper()
	bucket := &fakeBucket{objects: make(map[string]fakeObject)}
	store, err := New(context.Background(), Config{
		Bucket:          "upload-area",
		Endpoint:        "https://s3.test.local",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		PathStyle:       true,
		HTTPClient:      &http.Client{Transport: bucket},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store, bucket
}

func TestStorePutGetListDelete(t *testing.T) {
	ctx := context.Background()
	store, _ := newFakeStore(t)
	if store.Driver() != core.DriverS3 || store.Bucket() != "upload-area" {
		t.Fatalf("unexpected store %s %s", store.Driver(), store.Bucket())
	}
	info, err := store.Put(ctx, "DS1/r1.fastq.gz", bytes.NewReader([]byte("hello")), core.PutOptions{ContentType: "application/gzip"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "DS1/r1.fastq.gz" || info.Size != 5 || info.ETag != "etag-5" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "DS1/r1.fastq.gz", bytes.NewReader([]byte("x")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	_, rc, err := store.Get(ctx, "DS1/r1.fastq.gz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "hello" {
		t.Fatalf("unexpected body %q", body)
	}
	if _, err := store.Put(ctx, "DS1/r2.fastq.gz", bytes.NewReader([]byte("world!")), core.PutOptions{}); err != nil {
		t.Fatalf("put r2: %v", err)
	}
	list, err := store.List(ctx, "DS1/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[1].Key != "DS1/r2.fastq.gz" || list[1].Size != 6 || list[1].ETag != "e" {
		t.Fatalf("unexpected list %+v", list)
	}
	if ok, err := store.Delete(ctx, "DS1/r1.fastq.gz"); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, err := store.Delete(ctx, "DS1/r1.fastq.gz"); err != nil || ok {
		t.Fatalf("second delete: %v %v", ok, err)
	}
}

func TestStoreMissingKeysMapToErrNotFound(t *testing.T) {
	ctx := context.Background()
	store, _ := newFakeStore(t)
	if _, err := store.Head(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("head: expected ErrNotFound, got %v", err)
	}
	if _, _, err := store.Get(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("get: expected ErrNotFound, got %v", err)
	}
	if _, err := store.Copy(ctx, "nope", "dst"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("copy: expected ErrNotFound, got %v", err)
	}
	if list, err := store.List(ctx, "none/"); err != nil || len(list) != 0 {
		t.Fatalf("expected empty list: %v %+v", err, list)
	}
}

func TestStoreCopyIsServerSide(t *testing.T) {
	ctx := context.Background()
	store, bucket := newFakeStore(t)
	if _, err := store.Put(ctx, "staging/a b.fastq", bytes.NewReader([]byte("ACGT")), core.PutOptions{ContentType: "text/plain"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	info, err := store.Copy(ctx, "staging/a b.fastq", "DS1/a b.fastq")
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if info.Key != "DS1/a b.fastq" || info.Size != 4 {
		t.Fatalf("unexpected info %+v", info)
	}
	if len(bucket.copies) != 1 || bucket.copies[0] != "staging/a b.fastq->DS1/a b.fastq" {
		t.Fatalf("unexpected copies %v", bucket.copies)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for missing bucket")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("MORPHIC_BLOB_S3_BUCKET", "env-bucket")
	t.Setenv("MORPHIC_BLOB_S3_REGION", "eu-west-2")
	t.Setenv("MORPHIC_BLOB_S3_ENDPOINT", "http://minio:9000")
	t.Setenv("MORPHIC_BLOB_S3_PATH_STYLE", "TRUE")
	cfg := ConfigFromEnv()
	if cfg.Bucket != "env-bucket" || cfg.Region != "eu-west-2" || cfg.Endpoint != "http://minio:9000" || !cfg.PathStyle {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestDecodeChunked(t *testing.T) {
	if _, ok := decodeChunked([]byte("plain")); ok {
		t.Fatalf("plain body must not decode")
	}
	if b, ok := decodeChunked([]byte("5\r\nhello\r\n0\r\nx-amz-checksum-crc32:abc\r\n\r\n")); !ok || string(b) != "hello" {
		t.Fatalf("expected hello, got %q", b)
	}
}
