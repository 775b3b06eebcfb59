package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"

	"morphicutil/internal/catalogue"
	"morphicutil/internal/infra/persistence/memory"
	"morphicutil/pkg/domain"
)

func TestSubmitAddCreatesHierarchyInOrder(t *testing.T) {
	cat := newFakeCatalogue()
	journal := memory.NewJournal()
	sink := &captureSink{}
	svc := newTestService(t, cat, WithJournal(journal))

	sub := sampleSubmission()
	out, err := svc.Submit(context.Background(), Request{Action: domain.ActionAdd, DatasetID: " DS1 ", Submission: sub, Tables: sink, Source: "book.xlsx"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.RunID != "run-1" || out.EnvelopeID != "env-1" || out.DatasetID != "DS1" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(out.Created) != 10 {
		t.Fatalf("expected 10 created resources, got %d", len(out.Created))
	}

	ordered := []string{
		"create envelope",
		"dataset DS1 add biomaterials/bio-1",
		"link biomaterials/bio-1 inputToProcesses processes/proc-1",
		"link biomaterials/bio-2 derivedByProcesses processes/proc-1",
		"create child of bio-2",
		"link biomaterials/bio-3 submissionEnvelopes submissionEnvelopes/env-1",
		"link biomaterials/bio-2 inputToProcesses processes/proc-2",
		"link biomaterials/bio-3 derivedByProcesses processes/proc-2",
		"create child of bio-3",
		"link biomaterials/bio-4 derivedByProcesses processes/proc-3",
		"create files in env-1",
		"dataset DS1 add files/file-1",
		"link files/file-1 derivedByProcesses processes/proc-4",
	}
	last := -1
	for _, call := range ordered {
		idx := cat.index(call)
		if idx < 0 {
			t.Fatalf("missing call %q in %v", call, cat.calls)
		}
		if idx <= last {
			t.Fatalf("call %q out of order", call)
		}
		last = idx
	}
	if got := cat.count("dataset DS1 add"); got != 9 {
		t.Fatalf("expected every created resource linked to the dataset, got %d", got)
	}

	if sub.CellLines[0].RemoteID() != "bio-2" || sub.Products[0].RemoteID() != "bio-3" || sub.LibraryPreparations[0].RemoteID() != "bio-4" {
		t.Fatalf("remote ids not assigned")
	}
	if sub.SequencingFiles[0].RemoteID() != "file-1" || sub.ExpressionAlterations[0].RemoteID() != "proc-1" {
		t.Fatalf("file or alteration id not assigned")
	}
	want := map[string]string{
		"cell_line/CL1":                 "bio-2",
		"differentiated_cell_line/DCL1": "bio-3",
		"library_preparation/LP1":       "bio-4",
		"sequence_file/r1.fastq.gz":     "file-1",
		"expression_alteration/ALT1":    "proc-1",
	}
	for k, v := range want {
		if sink.ids[k] != v {
			t.Fatalf("identifier %s = %q, want %q", k, sink.ids[k], v)
		}
	}
	if _, ok := sink.ids["parent_cell_line/P1"]; ok {
		t.Fatalf("parent cell line has no working table")
	}

	content, _ := cat.body("proc-2")["content"].(map[string]any)
	if content["process_type"] != processDifferentiation || content["label"] != "differentiation_CL1" {
		t.Fatalf("unexpected differentiation process body %v", content)
	}
	alt, _ := cat.body("proc-1")["content"].(map[string]any)
	if alt["process_type"] != processExpressionAlteration || alt["expression_alteration_label"] != "ALT1" {
		t.Fatalf("unexpected alteration process body %v", alt)
	}

	run, ok, err := journal.GetRun(context.Background(), "run-1")
	if err != nil || !ok {
		t.Fatalf("journal run: ok=%v err=%v", ok, err)
	}
	if run.Status != domain.RunStatusSucceeded || run.EnvelopeID != "env-1" || run.Source != "book.xlsx" || len(run.Resources) != 10 {
		t.Fatalf("unexpected journal record %+v", run)
	}
}

func TestSubmitBlockingViolationsMakeNoRemoteCalls(t *testing.T) {
	cat := newFakeCatalogue()
	svc := newTestService(t, cat)
	sub := sampleSubmission()
	sub.SequencingFiles[0].LibraryPreparationID = "LPX"

	out, err := svc.Submit(context.Background(), Request{Action: domain.ActionAdd, DatasetID: "DS1", Submission: sub})
	var verr domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(cat.calls) != 0 {
		t.Fatalf("expected no remote calls, got %v", cat.calls)
	}
	if !out.Violations.HasBlocking() || out.RunID != "" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if !strings.Contains(err.Error(), "r1.fastq.gz") {
		t.Fatalf("message should name the orphan: %v", err)
	}
}

func TestSubmitRequiresDataset(t *testing.T) {
	svc := newTestService(t, newFakeCatalogue())
	if _, err := svc.Submit(context.Background(), Request{Action: domain.ActionAdd, DatasetID: "  ", Submission: sampleSubmission()}); !errors.Is(err, ErrMissingDataset) {
		t.Fatalf("expected ErrMissingDataset, got %v", err)
	}
	if _, err := svc.Submit(context.Background(), Request{Action: "UPSERT", DatasetID: "DS1"}); err == nil {
		t.Fatalf("expected unknown action error")
	}
	if _, err := svc.Submit(context.Background(), Request{Action: domain.ActionAdd, DatasetID: "DS1"}); err == nil {
		t.Fatalf("expected missing workbook error")
	}
}

func TestSubmitAddFailureRollsBack(t *testing.T) {
	cat := newFakeCatalogue()
	cat.fail = failOn("link biomaterials/bio-4 derivedByProcesses")
	journal := memory.NewJournal()
	svc := newTestService(t, cat, WithJournal(journal))

	out, err := svc.Submit(context.Background(), Request{Action: domain.ActionAdd, DatasetID: "DS1", Submission: sampleSubmission()})
	var subErr *domain.SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected submission error, got %v", err)
	}
	var status *catalogue.StatusError
	if !errors.As(err, &status) || status.Code != 500 {
		t.Fatalf("cause should be the status error, got %v", err)
	}
	if out.Rollback == nil || !out.Rollback.Complete() {
		t.Fatalf("expected complete rollback, got %+v", out.Rollback)
	}
	if cat.index("delete envelope env-1") < 0 {
		t.Fatalf("envelope not deleted: %v", cat.calls)
	}
	if got := cat.count("delete biomaterials/"); got != 4 {
		t.Fatalf("expected 4 biomaterial deletions, got %d", got)
	}
	if got := cat.count("delete processes/"); got != 3 {
		t.Fatalf("expected 3 process deletions, got %d", got)
	}
	if cat.count("delete datasets/") != 0 {
		t.Fatalf("rollback must keep the dataset")
	}
	if cat.count("create files") != 0 {
		t.Fatalf("no creation may follow the failure")
	}
	run, _, _ := journal.GetRun(context.Background(), out.RunID)
	if run.Status != domain.RunStatusRolledBack || run.Message == "" {
		t.Fatalf("unexpected journal status %+v", run)
	}
}

func TestSubmitAddWithoutEnvelopeLeavesDatasetAlone(t *testing.T) {
	cat := newFakeCatalogue()
	cat.datasets["DS1"] = &catalogue.Dataset{ID: "DS1", Biomaterials: []string{"old-bio"}, Processes: []string{"old-proc"}}
	cat.fail = func(call string) error {
		if call == "create envelope" {
			return fmt.Errorf("create envelope: %w", catalogue.ErrUnauthorized)
		}
		return nil
	}
	journal := memory.NewJournal()
	svc := newTestService(t, cat, WithJournal(journal))

	out, err := svc.Submit(context.Background(), Request{Action: domain.ActionAdd, DatasetID: "DS1", Submission: sampleSubmission()})
	if !errors.Is(err, catalogue.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if cat.count("delete") != 0 || cat.count("get dataset") != 0 {
		t.Fatalf("nothing was created, nothing may be deleted: %v", cat.calls)
	}
	if out.Rollback != nil {
		t.Fatalf("unexpected rollback %+v", out.Rollback)
	}
	run, _, _ := journal.GetRun(context.Background(), out.RunID)
	if run.Status != domain.RunStatusFailed {
		t.Fatalf("expected failed status, got %s", run.Status)
	}
}

func TestRollbackWithoutEnvelopeIsNoop(t *testing.T) {
	cat := newFakeCatalogue()
	cat.datasets["DS1"] = &catalogue.Dataset{ID: "DS1", Biomaterials: []string{"old-bio"}}
	svc := newTestService(t, cat)
	report := svc.Rollback(context.Background(), "", "DS1", domain.ActionAdd)
	if len(cat.calls) != 0 || len(report.Steps) != 0 || report.Note == "" {
		t.Fatalf("rollback without envelope must not call the catalogue: %+v %v", report, cat.calls)
	}
}

func TestSubmitCancellationRollsBack(t *testing.T) {
	cat := newFakeCatalogue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cat.fail = func(call string) error {
		if call == "create child of bio-2" {
			cancel()
		}
		return nil
	}
	svc := newTestService(t, cat)

	out, err := svc.Submit(ctx, Request{Action: domain.ActionAdd, DatasetID: "DS1", Submission: sampleSubmission()})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if cat.index("delete envelope env-1") < 0 {
		t.Fatalf("rollback must run on a detached context: %v", cat.calls)
	}
	if out.Rollback == nil || !out.Rollback.Complete() {
		t.Fatalf("unexpected rollback %+v", out.Rollback)
	}
}

func TestRollbackReportsFailedSteps(t *testing.T) {
	cat := newFakeCatalogue()
	cat.fail = failOn("delete envelope")
	logger := &captureLogger{}
	svc := newTestService(t, cat, WithLogger(logger))

	report := svc.Rollback(context.Background(), "env-9", "DS1", domain.ActionAdd)
	if report.Complete() {
		t.Fatalf("expected incomplete rollback")
	}
	if report.Steps[0].Err == nil || report.Steps[1].Err != nil {
		t.Fatalf("unexpected steps %+v", report.Steps)
	}
	if report.Note == "" || !strings.Contains(report.String(), "delete envelope env-9") {
		t.Fatalf("unexpected report %s", report.String())
	}
	if !logger.has("error", "rollback incomplete") {
		t.Fatalf("incomplete rollback must be logged")
	}
}

func TestRollbackModifyOnlyNotes(t *testing.T) {
	cat := newFakeCatalogue()
	svc := newTestService(t, cat)
	report := svc.Rollback(context.Background(), "", "DS1", domain.ActionModify)
	if len(cat.calls) != 0 || len(report.Steps) != 0 || report.Note != contactSupport {
		t.Fatalf("modify rollback must not call the catalogue: %+v %v", report, cat.calls)
	}
}

func modifySubmission(t *testing.T) *domain.Submission {
	t.Helper()
	sub := sampleSubmission()
	for rec, id := range map[*domain.Remote]string{
		&sub.CellLines[0].Remote:       "bio-10",
		&sub.Products[0].Remote:        "bio-11",
		&sub.SequencingFiles[0].Remote: "file-7",
	} {
		if err := rec.AssignRemoteID(id); err != nil {
			t.Fatalf("assign: %v", err)
		}
	}
	return sub
}

func TestSubmitModifyPatchesRecordsWithIDs(t *testing.T) {
	cat := newFakeCatalogue()
	rec := &captureReconciler{artifact: "out.xlsx"}
	svc := newTestService(t, cat, WithReconciler(rec))

	out, err := svc.Submit(context.Background(), Request{Action: domain.ActionModify, DatasetID: "DS1", Submission: modifySubmission(t), Tables: &captureSink{}})
	if err != nil {
		t.Fatalf("modify: %v", err)
	}
	for _, call := range []string{"patch biomaterials/bio-10", "patch biomaterials/bio-11", "patch files/file-7"} {
		if cat.index(call) < 0 {
			t.Fatalf("missing %q in %v", call, cat.calls)
		}
	}
	if len(out.Modified) != 3 || len(out.Created) != 0 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	warned := slices.ContainsFunc(out.Violations.Violations, func(v domain.Violation) bool {
		return v.Rule == RuleModifyIdentifiers && v.EntityID == "LP1"
	})
	if !warned {
		t.Fatalf("expected a warning for LP1 without Id: %+v", out.Violations)
	}
	if out.Artifact != "out.xlsx" || len(rec.runs) != 1 || rec.runs[0].Status != domain.RunStatusSucceeded {
		t.Fatalf("reconciler not invoked: %+v", rec.runs)
	}
	content, _ := cat.body("bio-11")["content"].(map[string]any)
	if content["label"] != "DCL1" {
		t.Fatalf("patch must send current content, got %v", content)
	}
}

func TestSubmitModifyContinuesPastFailures(t *testing.T) {
	cat := newFakeCatalogue()
	cat.fail = failOn("patch biomaterials/bio-11")
	journal := memory.NewJournal()
	svc := newTestService(t, cat, WithJournal(journal))

	out, err := svc.Submit(context.Background(), Request{Action: domain.ActionModify, DatasetID: "DS1", Submission: modifySubmission(t)})
	var subErr *domain.SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected submission error, got %v", err)
	}
	if !slices.Contains(subErr.Errors, contactSupport) {
		t.Fatalf("error must ask to contact support: %v", subErr.Errors)
	}
	if cat.index("patch files/file-7") < 0 {
		t.Fatalf("siblings must still be patched")
	}
	if cat.count("delete") != 0 {
		t.Fatalf("modify has no rollback: %v", cat.calls)
	}
	if len(out.Modified) != 2 || out.Rollback == nil || out.Rollback.Note != contactSupport {
		t.Fatalf("unexpected outcome %+v", out)
	}
	run, _, _ := journal.GetRun(context.Background(), out.RunID)
	if run.Status != domain.RunStatusFailed {
		t.Fatalf("expected failed status, got %s", run.Status)
	}
}

func TestSubmitModifyPatchesExpressionAlterations(t *testing.T) {
	cat := newFakeCatalogue()
	sub := sampleSubmission()
	if err := sub.ExpressionAlterations[0].AssignRemoteID("proc-9"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := sub.CellLines[0].AssignRemoteID("bio-9"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	svc := newTestService(t, cat)

	out, err := svc.Submit(context.Background(), Request{Action: domain.ActionModify, DatasetID: "DS1", Submission: sub})
	if err != nil {
		t.Fatalf("modify: %v", err)
	}
	want := []string{"patch processes/proc-9", "patch biomaterials/bio-9"}
	if !slices.Equal(cat.calls, want) {
		t.Fatalf("calls = %v, want %v", cat.calls, want)
	}
	if len(out.Modified) != 2 {
		t.Fatalf("unexpected modified %+v", out.Modified)
	}
}

func TestSubmitDeleteRemovesDatasetContents(t *testing.T) {
	cat := newFakeCatalogue()
	cat.datasets["DS1"] = &catalogue.Dataset{ID: "DS1", Biomaterials: []string{"b1", "b2"}, Processes: []string{"p1"}, Files: []string{"f1"}}
	svc := newTestService(t, cat, WithReconciler(&captureReconciler{}))

	out, err := svc.Submit(context.Background(), Request{Action: domain.ActionDelete, DatasetID: "DS1", Tables: &captureSink{}})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if out.Deleted == nil || !out.Deleted.DatasetDeleted || len(out.Deleted.Deleted) != 4 {
		t.Fatalf("unexpected delete report %+v", out.Deleted)
	}
	if cat.index("delete files/f1 linked=false") > cat.index("delete biomaterials/b1 linked=false") {
		t.Fatalf("files must be deleted before biomaterials")
	}
	if last := cat.calls[len(cat.calls)-1]; last != "delete datasets/DS1 linked=false" {
		t.Fatalf("dataset must be deleted last, got %q", last)
	}
	if out.Artifact != "" {
		t.Fatalf("delete writes no audit workbook")
	}
}

func TestSubmitDeleteContinuesPastItemFailures(t *testing.T) {
	cat := newFakeCatalogue()
	cat.datasets["DS1"] = &catalogue.Dataset{ID: "DS1", Biomaterials: []string{"b1", "b2"}, Processes: []string{"p1"}}
	cat.fail = failOn("delete biomaterials/b1")
	svc := newTestService(t, cat)

	out, err := svc.Submit(context.Background(), Request{Action: domain.ActionDelete, DatasetID: "DS1"})
	var subErr *domain.SubmissionError
	if !errors.As(err, &subErr) || len(subErr.Errors) != 1 || !strings.Contains(subErr.Errors[0], "biomaterials/b1") {
		t.Fatalf("expected the failed item in the error, got %v", err)
	}
	want := []string{"get dataset DS1", "delete processes/p1 linked=false", "delete biomaterials/b1 linked=false", "delete biomaterials/b2 linked=false", "delete datasets/DS1 linked=false"}
	if !slices.Equal(cat.calls, want) {
		t.Fatalf("calls = %v, want %v", cat.calls, want)
	}
	if !out.Deleted.DatasetDeleted || len(out.Deleted.Deleted) != 2 || len(out.Deleted.Failed) != 1 {
		t.Fatalf("unexpected report %+v", out.Deleted)
	}
	if out.Rollback != nil {
		t.Fatalf("delete is not rolled back")
	}
}

func TestDeleteDatasetReportsItemsWithDatasetFailure(t *testing.T) {
	cat := newFakeCatalogue()
	cat.datasets["DS1"] = &catalogue.Dataset{ID: "DS1", Biomaterials: []string{"b1"}, Processes: []string{"p1"}}
	cat.fail = func(call string) error {
		if strings.HasPrefix(call, "delete processes/p1") || strings.HasPrefix(call, "delete datasets/DS1") {
			return &catalogue.StatusError{Method: "DELETE", URL: call, Code: 409}
		}
		return nil
	}
	svc := newTestService(t, cat)

	report, err := svc.DeleteDataset(context.Background(), "DS1")
	var subErr *domain.SubmissionError
	if !errors.As(err, &subErr) || len(subErr.Errors) != 2 {
		t.Fatalf("expected item and dataset failures, got %v", err)
	}
	if report.DatasetDeleted || len(report.Deleted) != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if cat.index("delete biomaterials/b1 linked=false") < 0 {
		t.Fatalf("remaining items must still be deleted: %v", cat.calls)
	}
}

func TestDeleteDatasetToleratesItemFailures(t *testing.T) {
	cat := newFakeCatalogue()
	cat.datasets["DS1"] = &catalogue.Dataset{ID: "DS1", Files: []string{"f1"}}
	cat.fail = failOn("delete files/f1")
	svc := newTestService(t, cat)

	report, err := svc.DeleteDataset(context.Background(), "DS1")
	if err != nil {
		t.Fatalf("item failures are reported, not returned: %v", err)
	}
	if !report.DatasetDeleted || len(report.Failed) != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestSubmitAuditFailureKeepsSubmission(t *testing.T) {
	cat := newFakeCatalogue()
	auditErr := errors.New("disk full")
	svc := newTestService(t, cat, WithReconciler(&captureReconciler{err: auditErr}))

	out, err := svc.Submit(context.Background(), Request{Action: domain.ActionAdd, DatasetID: "DS1", Submission: sampleSubmission(), Tables: &captureSink{}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !errors.Is(out.AuditErr, auditErr) || out.Rollback != nil {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestLinkDatasetToStudy(t *testing.T) {
	cat := newFakeCatalogue()
	svc := newTestService(t, cat)
	if err := svc.LinkDatasetToStudy(context.Background(), "ST1", "DS1"); err != nil {
		t.Fatalf("link: %v", err)
	}
	if cat.index("study ST1 add dataset DS1") < 0 {
		t.Fatalf("missing study link: %v", cat.calls)
	}
	if err := svc.LinkDatasetToStudy(context.Background(), "", "DS1"); !errors.Is(err, ErrMissingStudy) {
		t.Fatalf("expected ErrMissingStudy, got %v", err)
	}
	if err := svc.LinkDatasetToStudy(context.Background(), "ST1", ""); !errors.Is(err, ErrMissingDataset) {
		t.Fatalf("expected ErrMissingDataset, got %v", err)
	}
}

func TestHistoryWithoutJournal(t *testing.T) {
	svc := newTestService(t, newFakeCatalogue())
	runs, err := svc.History(context.Background())
	if err != nil || runs != nil {
		t.Fatalf("expected empty history, got %v %v", runs, err)
	}
}
