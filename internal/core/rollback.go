package core

import (
	"context"
	"fmt"
	"strings"

	"morphicutil/internal/catalogue"
	"morphicutil/pkg/domain"
)

// CompensationStep is one attempted undo action.
type CompensationStep struct {
	Name   string
	Target string
	Err    error
}

// RollbackReport describes what was undone after a failed run.
type RollbackReport struct {
	Action     domain.Action
	EnvelopeID string
	DatasetID  string
	Steps      []CompensationStep
	Note       string
}

// Complete reports whether every step succeeded.
func (r RollbackReport) Complete() bool {
	for _, step := range r.Steps {
		if step.Err != nil {
			return false
		}
	}
	return true
}

func (r RollbackReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "rollback of %s on dataset %s", r.Action, r.DatasetID)
	for _, step := range r.Steps {
		status := "ok"
		if step.Err != nil {
			status = step.Err.Error()
		}
		fmt.Fprintf(&b, "\n  %s %s: %s", step.Name, step.Target, status)
	}
	if r.Note != "" {
		b.WriteString("\n  " + r.Note)
	}
	return b.String()
}

// Rollback compensates a failed run. For ADD it force-deletes the envelope
// and clears the dataset of anything linked to it; the dataset itself is kept.
// Without an envelope the run created nothing and the dataset is left alone.
// MODIFY cannot be undone and only gets a note. Compensation runs even when
// ctx is already cancelled, bounded by the rollback timeout.
func (s *Service) Rollback(ctx context.Context, envelopeID, datasetID string, action domain.Action) RollbackReport {
	report := RollbackReport{Action: action, EnvelopeID: envelopeID, DatasetID: datasetID}
	if action != domain.ActionAdd {
		report.Note = contactSupport
		return report
	}

	if envelopeID == "" {
		report.Note = "no envelope was created; nothing to roll back"
		s.logger.Info("rollback skipped", "dataset", datasetID)
		return report
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.rollbackTimeout)
	defer cancel()

	_, err := s.observe(ctx, "rollback_envelope", action, domain.EntityEnvelope, envelopeID, func(ctx context.Context) (string, error) {
		return envelopeID, s.catalogue.DeleteEnvelope(ctx, envelopeID)
	})
	report.Steps = append(report.Steps, CompensationStep{Name: "delete envelope", Target: envelopeID, Err: err})

	var cleared DeleteReport
	err = s.clearDataset(ctx, datasetID, action, &cleared)
	if err == nil && len(cleared.Failed) > 0 {
		err = deleteFailures(cleared)
	}
	report.Steps = append(report.Steps, CompensationStep{
		Name:   "clear dataset",
		Target: catalogue.Ref{Collection: catalogue.CollectionDatasets, ID: datasetID}.String(),
		Err:    err,
	})

	if report.Complete() {
		s.logger.Info("rollback complete", "envelope", envelopeID, "dataset", datasetID, "removed", len(cleared.Deleted))
	} else {
		report.Note = "rollback incomplete: remove the remaining resources manually or contact support"
		s.logger.Error("rollback incomplete", "envelope", envelopeID, "dataset", datasetID, "report", report.String())
	}
	return report
}
