package domain

import (
	"context"
	"errors"
	"time"
)

// Journal lookup failures.
var (
	ErrRunNotFound = errors.New("run not found")
	ErrRunExists   = errors.New("run already exists")
)

// RunStatus tracks the lifecycle of a submission run.
type RunStatus string

// Run lifecycle states.
const (
	RunStatusRunning    RunStatus = "running"
	RunStatusSucceeded  RunStatus = "succeeded"
	RunStatusFailed     RunStatus = "failed"
	RunStatusRolledBack RunStatus = "rolled_back"
)

// ResourceRecord captures one remote resource created or modified by a run.
type ResourceRecord struct {
	Entity    EntityType `json:"entity"`
	Key       string     `json:"key"`
	RemoteID  string     `json:"remote_id"`
	Operation string     `json:"operation"`
	At        time.Time  `json:"at"`
}

// RunRecord is the journal entry for one submission run.
type RunRecord struct {
	ID         string           `json:"id"`
	Action     Action           `json:"action"`
	DatasetID  string           `json:"dataset_id"`
	EnvelopeID string           `json:"envelope_id,omitempty"`
	Source     string           `json:"source,omitempty"`
	Status     RunStatus        `json:"status"`
	Message    string           `json:"message,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Resources  []ResourceRecord `json:"resources,omitempty"`
}

// Clone returns a deep copy of the record.
func (r RunRecord) Clone() RunRecord {
	out := r
	if r.FinishedAt != nil {
		at := *r.FinishedAt
		out.FinishedAt = &at
	}
	if r.Resources != nil {
		out.Resources = append([]ResourceRecord(nil), r.Resources...)
	}
	return out
}

// Journal persists submission runs and the resources they touched so a
// failed run can be inspected after the process exits.
type Journal interface {
	BeginRun(ctx context.Context, run RunRecord) error
	AttachEnvelope(ctx context.Context, runID, envelopeID string) error
	RecordResource(ctx context.Context, runID string, resource ResourceRecord) error
	FinishRun(ctx context.Context, runID string, status RunStatus, message string, at time.Time) error
	GetRun(ctx context.Context, runID string) (RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]RunRecord, error)
	Close() error
}
