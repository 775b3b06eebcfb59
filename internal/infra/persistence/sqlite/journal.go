// Package sqlite persists the run journal to an embedded SQLite file. Each
// run is stored as one JSON row and rewritten after every successful mutation.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"morphicutil/internal/infra/persistence/memory"
	"morphicutil/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ domain.Journal = (*Journal)(nil)

// DefaultPath is used when no path is configured.
const DefaultPath = "morphic-util.db"

// Journal wraps the in-memory journal with SQLite persistence.
type Journal struct {
	*memory.Journal
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewJournal opens (or creates) the journal database at path and loads
// existing runs.
func NewJournal(path string) (*Journal, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create runs table: %w", err)
	}
	j := &Journal{Journal: memory.NewJournal(), db: db, path: path}
	if err := j.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) load() error {
	rows, err := j.db.Query(`SELECT id, payload FROM runs`)
	if err != nil {
		return fmt.Errorf("select runs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var snapshot memory.Snapshot
	for rows.Next() {
		var (
			id      string
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		var run domain.RunRecord
		if err := json.Unmarshal(payload, &run); err != nil {
			return fmt.Errorf("decode run %s: %w", id, err)
		}
		snapshot.Runs = append(snapshot.Runs, run)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate runs: %w", err)
	}
	j.ImportState(snapshot)
	return nil
}

func (j *Journal) persist(ctx context.Context, runID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	run, ok, err := j.Journal.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", runID, err)
	}
	if _, err := j.db.ExecContext(ctx, `INSERT INTO runs(id,payload) VALUES(?,?) ON CONFLICT(id) DO UPDATE SET payload=excluded.payload`, runID, data); err != nil {
		return fmt.Errorf("upsert run %s: %w", runID, err)
	}
	return nil
}

// BeginRun stores a new run and persists it.
func (j *Journal) BeginRun(ctx context.Context, run domain.RunRecord) error {
	if err := j.Journal.BeginRun(ctx, run); err != nil {
		return err
	}
	return j.persist(ctx, run.ID)
}

// AttachEnvelope records the envelope and persists the run.
func (j *Journal) AttachEnvelope(ctx context.Context, runID, envelopeID string) error {
	if err := j.Journal.AttachEnvelope(ctx, runID, envelopeID); err != nil {
		return err
	}
	return j.persist(ctx, runID)
}

// RecordResource appends a resource and persists the run.
func (j *Journal) RecordResource(ctx context.Context, runID string, resource domain.ResourceRecord) error {
	if err := j.Journal.RecordResource(ctx, runID, resource); err != nil {
		return err
	}
	return j.persist(ctx, runID)
}

// FinishRun stores the terminal status and persists the run.
func (j *Journal) FinishRun(ctx context.Context, runID string, status domain.RunStatus, message string, at time.Time) error {
	if err := j.Journal.FinishRun(ctx, runID, status, message, at); err != nil {
		return err
	}
	return j.persist(ctx, runID)
}

// Close releases the database handle.
func (j *Journal) Close() error { return j.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (j *Journal) DB() *sql.DB { return j.db }

// Path returns the configured database path.
func (j *Journal) Path() string { return j.path }
