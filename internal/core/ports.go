package core

import (
	"context"

	"morphicutil/internal/blob"
	"morphicutil/internal/catalogue"
	"morphicutil/pkg/domain"
)

// Catalogue is the remote surface the service drives.
type Catalogue interface {
	CreateEnvelope(ctx context.Context) (string, error)
	CreateInEnvelope(ctx context.Context, envelopeID, collection string, body any) (string, error)
	CreateChild(ctx context.Context, parentID string, body any) (string, error)
	Link(ctx context.Context, from catalogue.Ref, relation string, target catalogue.Ref) error
	LinkToDataset(ctx context.Context, datasetID string, target catalogue.Ref) error
	LinkDatasetToStudy(ctx context.Context, studyID, datasetID string) error
	Patch(ctx context.Context, ref catalogue.Ref, body any) error
	GetDataset(ctx context.Context, datasetID string) (catalogue.Dataset, error)
	Delete(ctx context.Context, ref catalogue.Ref, deleteLinked bool) error
	DeleteEnvelope(ctx context.Context, envelopeID string) error
}

var _ Catalogue = (*catalogue.Client)(nil)

// IdentifierSink receives catalogue identifiers keyed by natural key so the
// working tables can be written back.
type IdentifierSink interface {
	SetIdentifier(entity domain.EntityType, key, id string) bool
}

// Reconciler persists the working tables once a run has committed and
// returns the artifact location.
type Reconciler interface {
	Reconcile(ctx context.Context, run domain.RunRecord, tables IdentifierSink) (string, error)
}

// UploadArea lists objects staged for a dataset. blob.Store satisfies it.
type UploadArea interface {
	List(ctx context.Context, prefix string) ([]blob.Info, error)
}

// SchemaValidator checks a record's content document.
type SchemaValidator interface {
	Validate(entity domain.EntityType, content map[string]any) error
}
