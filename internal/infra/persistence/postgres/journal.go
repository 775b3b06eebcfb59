// Package postgres persists the run journal to a PostgreSQL server through
// the pgx database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"morphicutil/internal/infra/persistence/memory"
	"morphicutil/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

var _ domain.Journal = (*Journal)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/morphic_util?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Journal wraps the in-memory journal with Postgres persistence.
type Journal struct {
	*memory.Journal
	db *sql.DB
	mu sync.Mutex
}

// NewJournal connects to dsn (falls back to defaultDSN), ensures the runs
// table exists and hydrates the journal from it.
func NewJournal(ctx context.Context, dsn string) (*Journal, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureRunsTable(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	snapshot, err := loadRuns(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewJournal()
	mem.ImportState(snapshot)
	return &Journal{Journal: mem, db: db}, nil
}

func ensureRunsTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure runs table: %w", err)
	}
	return nil
}

func loadRuns(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, payload FROM runs`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	for rows.Next() {
		var (
			id      string
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return memory.Snapshot{}, fmt.Errorf("scan run: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		var run domain.RunRecord
		if err := json.Unmarshal(payload, &run); err != nil {
			return memory.Snapshot{}, fmt.Errorf("decode run %s: %w", id, err)
		}
		snapshot.Runs = append(snapshot.Runs, run)
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate runs: %w", err)
	}
	return snapshot, nil
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
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `INSERT INTO runs(id,payload) VALUES($1,$2) ON CONFLICT(id) DO UPDATE SET payload=EXCLUDED.payload`, runID, data); err != nil {
		return fmt.Errorf("upsert run %s: %w", runID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
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

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
