package core

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"morphicutil/internal/catalogue"
	"morphicutil/pkg/domain"
)

// DeleteReport lists what a dataset deletion removed and what it could not.
type DeleteReport struct {
	DatasetID string
	Deleted   []catalogue.Ref
	Failed    map[catalogue.Ref]error
	// DatasetDeleted is false when the dataset itself is still present.
	DatasetDeleted bool
}

func (r *DeleteReport) fail(ref catalogue.Ref, err error) {
	if r.Failed == nil {
		r.Failed = make(map[catalogue.Ref]error)
	}
	r.Failed[ref] = err
}

// DeleteDataset removes every biomaterial, process and file linked to the
// dataset, then the dataset itself. Item failures are collected in the report
// and do not stop the batch; only reading or deleting the dataset returns an
// error, which then also lists the failed items.
func (s *Service) DeleteDataset(ctx context.Context, datasetID string) (DeleteReport, error) {
	report := DeleteReport{DatasetID: datasetID}
	if err := s.clearDataset(ctx, datasetID, domain.ActionDelete, &report); err != nil {
		return report, err
	}
	ref := catalogue.Ref{Collection: catalogue.CollectionDatasets, ID: datasetID}
	_, err := s.observe(ctx, "delete_dataset", domain.ActionDelete, domain.EntityDataset, datasetID, func(ctx context.Context) (string, error) {
		return datasetID, s.catalogue.Delete(ctx, ref, false)
	})
	if err != nil {
		report.fail(ref, err)
		return report, deleteFailures(report)
	}
	report.DatasetDeleted = true
	if len(report.Failed) > 0 {
		s.logger.Warn("dataset deleted with failed items", "dataset", datasetID, "items", len(report.Deleted), "failed", len(report.Failed))
		return report, nil
	}
	s.logger.Info("dataset deleted", "dataset", datasetID, "items", len(report.Deleted))
	return report, nil
}

// clearDataset deletes the contents of a dataset and keeps the dataset.
func (s *Service) clearDataset(ctx context.Context, datasetID string, action domain.Action, report *DeleteReport) error {
	var ds catalogue.Dataset
	_, err := s.observe(ctx, "get_dataset", action, domain.EntityDataset, datasetID, func(ctx context.Context) (string, error) {
		var err error
		ds, err = s.catalogue.GetDataset(ctx, datasetID)
		return datasetID, err
	})
	if err != nil {
		return fmt.Errorf("read dataset %s: %w", datasetID, err)
	}
	for _, ref := range datasetItems(ds) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("dataset deletion interrupted: %w", err)
		}
		_, err := s.observe(ctx, "delete_"+ref.Collection, action, entityFor(ref.Collection), ref.ID, func(ctx context.Context) (string, error) {
			return ref.ID, s.catalogue.Delete(ctx, ref, false)
		})
		if err != nil {
			s.logger.Warn("delete failed", "dataset", datasetID, "collection", ref.Collection, "id", ref.ID, "error", err)
			report.fail(ref, err)
			continue
		}
		report.Deleted = append(report.Deleted, ref)
	}
	return nil
}

// datasetItems lists files first so biomaterials are removed after
// the processes that reference them.
func datasetItems(ds catalogue.Dataset) []catalogue.Ref {
	out := make([]catalogue.Ref, 0, len(ds.Files)+len(ds.Processes)+len(ds.Biomaterials))
	for _, id := range ds.Files {
		out = append(out, catalogue.Ref{Collection: catalogue.CollectionFiles, ID: id})
	}
	for _, id := range ds.Processes {
		out = append(out, catalogue.Ref{Collection: catalogue.CollectionProcesses, ID: id})
	}
	for _, id := range ds.Biomaterials {
		out = append(out, catalogue.Ref{Collection: catalogue.CollectionBiomaterials, ID: id})
	}
	return out
}

func entityFor(collection string) domain.EntityType {
	switch collection {
	case catalogue.CollectionFiles:
		return domain.EntitySequencingFile
	case catalogue.CollectionProcesses:
		return domain.EntityProcess
	case catalogue.CollectionDatasets:
		return domain.EntityDataset
	default:
		return domain.EntityCellLine
	}
}

func deleteFailures(report DeleteReport) error {
	msgs := make([]string, 0, len(report.Failed))
	var first error
	for _, ref := range datasetFailureOrder(report) {
		err := report.Failed[ref]
		if first == nil {
			first = err
		}
		msgs = append(msgs, fmt.Sprintf("%s/%s: %v", ref.Collection, ref.ID, err))
	}
	return &domain.SubmissionError{Errors: msgs, Err: first}
}

// datasetFailureOrder returns failed refs in a stable order.
func datasetFailureOrder(report DeleteReport) []catalogue.Ref {
	refs := make([]catalogue.Ref, 0, len(report.Failed))
	for ref := range report.Failed {
		refs = append(refs, ref)
	}
	slices.SortFunc(refs, func(a, b catalogue.Ref) int {
		if c := cmp.Compare(a.Collection, b.Collection); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return refs
}
