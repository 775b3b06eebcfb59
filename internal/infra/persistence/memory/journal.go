// Package memory provides an in-memory run journal. The sqlite and postgres
// journals embed it and persist each touched run after a successful mutation.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"morphicutil/pkg/domain"
)

var _ domain.Journal = (*Journal)(nil)

// Snapshot is the serialisable representation of the journal.
type Snapshot struct {
	Runs []domain.RunRecord `json:"runs"`
}

// Journal keeps run records in process memory.
type Journal struct {
	mu   sync.RWMutex
	runs map[string]domain.RunRecord
}

// NewJournal constructs an empty journal.
func NewJournal() *Journal {
	return &Journal{runs: make(map[string]domain.RunRecord)}
}

// BeginRun stores a new run. The run id must be unique.
func (j *Journal) BeginRun(_ context.Context, run domain.RunRecord) error {
	if strings.TrimSpace(run.ID) == "" {
		return fmt.Errorf("run id is required")
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.runs[run.ID]; ok {
		return fmt.Errorf("%w: %s", domain.ErrRunExists, run.ID)
	}
	if run.Status == "" {
		run.Status = domain.RunStatusRunning
	}
	j.runs[run.ID] = run.Clone()
	return nil
}

// AttachEnvelope records the envelope opened by a run.
func (j *Journal) AttachEnvelope(_ context.Context, runID, envelopeID string) error {
	return j.mutate(runID, func(run *domain.RunRecord) {
		run.EnvelopeID = envelopeID
	})
}

// RecordResource appends a remote resource to a run.
func (j *Journal) RecordResource(_ context.Context, runID string, resource domain.ResourceRecord) error {
	return j.mutate(runID, func(run *domain.RunRecord) {
		run.Resources = append(run.Resources, resource)
	})
}

// FinishRun stores the terminal status of a run.
func (j *Journal) FinishRun(_ context.Context, runID string, status domain.RunStatus, message string, at time.Time) error {
	return j.mutate(runID, func(run *domain.RunRecord) {
		finished := at.UTC()
		run.Status = status
		run.Message = message
		run.FinishedAt = &finished
	})
}

// GetRun returns a copy of the run.
func (j *Journal) GetRun(_ context.Context, runID string) (domain.RunRecord, bool, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	run, ok := j.runs[runID]
	if !ok {
		return domain.RunRecord{}, false, nil
	}
	return run.Clone(), true, nil
}

// ListRuns returns every run, oldest first.
func (j *Journal) ListRuns(_ context.Context) ([]domain.RunRecord, error) {
	return j.ExportState().Runs, nil
}

// Close is a no-op.
func (j *Journal) Close() error { return nil }

// ExportState copies the journal contents ordered by start time.
func (j *Journal) ExportState() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	runs := make([]domain.RunRecord, 0, len(j.runs))
	for _, run := range j.runs {
		runs = append(runs, run.Clone())
	}
	sort.Slice(runs, func(a, b int) bool {
		if runs[a].StartedAt.Equal(runs[b].StartedAt) {
			return runs[a].ID < runs[b].ID
		}
		return runs[a].StartedAt.Before(runs[b].StartedAt)
	})
	return Snapshot{Runs: runs}
}

// ImportState replaces the journal contents.
func (j *Journal) ImportState(s Snapshot) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs = make(map[string]domain.RunRecord, len(s.Runs))
	for _, run := range s.Runs {
		if run.ID == "" {
			continue
		}
		j.runs[run.ID] = run.Clone()
	}
}

func (j *Journal) mutate(runID string, fn func(*domain.RunRecord)) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	run, ok := j.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}
	fn(&run)
	j.runs[runID] = run
	return nil
}
