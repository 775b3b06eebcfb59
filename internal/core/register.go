package core

import (
	"context"
	"errors"
	"strings"

	"morphicutil/pkg/domain"
)

// ErrMissingStudy is returned when a dataset is linked without a study.
var ErrMissingStudy = errors.New("study id is mandatory")

// LinkDatasetToStudy attaches a registered dataset to its study so that
// metadata submitted to the dataset is discoverable from the study.
func (s *Service) LinkDatasetToStudy(ctx context.Context, studyID, datasetID string) error {
	studyID, datasetID = strings.TrimSpace(studyID), strings.TrimSpace(datasetID)
	if studyID == "" {
		return ErrMissingStudy
	}
	if datasetID == "" {
		return ErrMissingDataset
	}
	_, err := s.observe(ctx, "link_study", domain.ActionAdd, domain.EntityDataset, datasetID, func(ctx context.Context) (string, error) {
		return studyID, s.catalogue.LinkDatasetToStudy(ctx, studyID, datasetID)
	})
	if err != nil {
		return err
	}
	s.logger.Info("dataset linked to study", "dataset", datasetID, "study", studyID)
	return nil
}
