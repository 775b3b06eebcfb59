package core

import (
	"context"
	"fmt"
	"path"
	"strings"

	"morphicutil/pkg/domain"
)

// RuleUploadArea names violations for sequencing files that were never uploaded.
const RuleUploadArea = "upload_area"

// UploadAreaRule checks that every sequencing file of an ADD exists in the
// dataset's upload area. Objects are matched by base name below the
// "<dataset>/" prefix.
func UploadAreaRule(area UploadArea) Rule {
	return uploadAreaRule{area: area}
}

type uploadAreaRule struct {
	area UploadArea
}

func (uploadAreaRule) Name() string { return RuleUploadArea }

func (r uploadAreaRule) Evaluate(ctx context.Context, in RuleInput) (domain.Result, error) {
	var res domain.Result
	if r.area == nil || in.Action != domain.ActionAdd || in.Submission == nil || len(in.Submission.SequencingFiles) == 0 {
		return res, nil
	}
	objects, err := r.area.List(ctx, DatasetPrefix(in.DatasetID))
	if err != nil {
		return res, fmt.Errorf("list upload area for dataset %s: %w", in.DatasetID, err)
	}
	present := make(map[string]struct{}, len(objects))
	for _, obj := range objects {
		present[path.Base(obj.Key)] = struct{}{}
	}
	for _, f := range in.Submission.SequencingFiles {
		if _, ok := present[f.FileName]; ok {
			continue
		}
		res.Add(domain.Violation{
			Rule:     RuleUploadArea,
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("No matching file found for sequencing file: %s in the upload area for the dataset: %s", f.FileName, in.DatasetID),
			Entity:   domain.EntitySequencingFile,
			EntityID: f.FileName,
		})
	}
	return res, nil
}

// DatasetPrefix is the object key prefix of a dataset's upload area.
func DatasetPrefix(datasetID string) string {
	return strings.Trim(datasetID, "/") + "/"
}
