package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"morphicutil/pkg/domain"
)

func TestJournalLifecycle(t *testing.T) {
	ctx := context.Background()
	j := NewJournal()
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	if err := j.BeginRun(ctx, domain.RunRecord{ID: "run-1", Action: domain.ActionAdd, DatasetID: "ds-1", StartedAt: start}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := j.BeginRun(ctx, domain.RunRecord{ID: "run-1"}); !errors.Is(err, domain.ErrRunExists) {
		t.Fatalf("expected ErrRunExists, got %v", err)
	}
	if err := j.AttachEnvelope(ctx, "run-1", "env-1"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := j.RecordResource(ctx, "run-1", domain.ResourceRecord{Entity: domain.EntityCellLine, Key: "CL-1", RemoteID: "bio-1", Operation: "create"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := j.FinishRun(ctx, "run-1", domain.RunStatusSucceeded, "", start.Add(time.Minute)); err != nil {
		t.Fatalf("finish: %v", err)
	}

	run, ok, err := j.GetRun(ctx, "run-1")
	if err != nil || !ok {
		t.Fatalf("get run: %v %v", ok, err)
	}
	if run.Status != domain.RunStatusSucceeded || run.EnvelopeID != "env-1" || len(run.Resources) != 1 || run.FinishedAt == nil {
		t.Fatalf("unexpected run %+v", run)
	}

	run.Resources[0].RemoteID = "mutated"
	again, _, _ := j.GetRun(ctx, "run-1")
	if again.Resources[0].RemoteID != "bio-1" {
		t.Fatalf("GetRun must return a copy")
	}
}

func TestJournalUnknownRun(t *testing.T) {
	ctx := context.Background()
	j := NewJournal()
	if err := j.AttachEnvelope(ctx, "missing", "env"); !errors.Is(err, domain.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	if _, ok, err := j.GetRun(ctx, "missing"); ok || err != nil {
		t.Fatalf("expected missing run, got %v %v", ok, err)
	}
	if err := j.BeginRun(ctx, domain.RunRecord{}); err == nil {
		t.Fatalf("expected error for empty run id")
	}
}

func TestJournalExportImportOrdersByStart(t *testing.T) {
	ctx := context.Background()
	j := NewJournal()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	_ = j.BeginRun(ctx, domain.RunRecord{ID: "b", StartedAt: base.Add(time.Hour)})
	_ = j.BeginRun(ctx, domain.RunRecord{ID: "a", StartedAt: base})

	snap := j.ExportState()
	if len(snap.Runs) != 2 || snap.Runs[0].ID != "a" || snap.Runs[1].Status != domain.RunStatusRunning {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	other := NewJournal()
	other.ImportState(snap)
	runs, err := other.ListRuns(ctx)
	if err != nil || len(runs) != 2 {
		t.Fatalf("list runs: %v %v", runs, err)
	}
}
