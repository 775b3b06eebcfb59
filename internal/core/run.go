package core

import (
	"context"
	"fmt"
	"time"

	"morphicutil/internal/catalogue"
	"morphicutil/pkg/domain"
)

// run carries the state of one Submit call.
type run struct {
	svc        *Service
	id         string
	req        Request
	started    time.Time
	envelopeID string
	created    []domain.ResourceRecord
	modified   []domain.ResourceRecord
}

func (r *run) begin(ctx context.Context) error {
	if r.svc.journal == nil {
		return nil
	}
	if err := r.svc.journal.BeginRun(ctx, r.record(domain.RunStatusRunning)); err != nil {
		return fmt.Errorf("journal run %s: %w", r.id, err)
	}
	return nil
}

// finish closes the journal entry. Journal failures are logged only: the
// remote state is already final.
func (r *run) finish(ctx context.Context, status domain.RunStatus, message string) {
	if r.svc.journal == nil {
		return
	}
	if err := r.svc.journal.FinishRun(context.WithoutCancel(ctx), r.id, status, message, r.svc.clock.Now()); err != nil {
		r.svc.logger.Warn("journal finish failed", "run", r.id, "error", err)
	}
}

func (r *run) record(status domain.RunStatus) domain.RunRecord {
	return domain.RunRecord{
		ID:         r.id,
		Action:     r.req.Action,
		DatasetID:  r.req.DatasetID,
		EnvelopeID: r.envelopeID,
		Source:     r.req.Source,
		Status:     status,
		StartedAt:  r.started,
		Resources:  append(append([]domain.ResourceRecord(nil), r.created...), r.modified...),
	}
}

func (r *run) note(ctx context.Context, res domain.ResourceRecord) {
	if res.Operation == operationModify {
		r.modified = append(r.modified, res)
	} else {
		r.created = append(r.created, res)
	}
	if r.svc.journal == nil {
		return
	}
	if err := r.svc.journal.RecordResource(ctx, r.id, res); err != nil {
		r.svc.logger.Warn("journal record failed", "run", r.id, "entity", res.Entity, "key", res.Key, "error", err)
	}
}

const (
	operationCreate = "create"
	operationModify = "modify"
)

// checkpoint stops the run between remote calls once ctx is done.
func (r *run) checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("submission interrupted: %w", err)
	}
	return nil
}

// create performs one create call and propagates the returned identifier to
// the record, the working table and the journal.
func (r *run) create(ctx context.Context, op string, entity domain.EntityType, key string, remote *domain.Remote, fn func(context.Context) (string, error)) (string, error) {
	if err := r.checkpoint(ctx); err != nil {
		return "", err
	}
	id, err := r.svc.observe(ctx, op, r.req.Action, entity, key, fn)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", op, key, err)
	}
	if remote != nil {
		if err := remote.AssignRemoteID(id); err != nil {
			return "", fmt.Errorf("%s %s: %w", entity, key, err)
		}
		if r.req.Tables != nil && entity != domain.EntityParentCellLine {
			r.req.Tables.SetIdentifier(entity, key, id)
		}
	}
	r.note(ctx, domain.ResourceRecord{Entity: entity, Key: key, RemoteID: id, Operation: operationCreate, At: r.svc.clock.Now()})
	return id, nil
}

// link relates two created resources. entity and key name the source record.
func (r *run) link(ctx context.Context, entity domain.EntityType, key string, from catalogue.Ref, relation string, target catalogue.Ref) error {
	if err := r.checkpoint(ctx); err != nil {
		return err
	}
	op := "link_" + relation
	_, err := r.svc.observe(ctx, op, r.req.Action, entity, key, func(ctx context.Context) (string, error) {
		return target.ID, r.svc.catalogue.Link(ctx, from, relation, target)
	})
	if err != nil {
		return fmt.Errorf("link %s/%s -%s-> %s/%s: %w", from.Collection, from.ID, relation, target.Collection, target.ID, err)
	}
	return nil
}

// linkDataset adds a created resource to the run's dataset.
func (r *run) linkDataset(ctx context.Context, target catalogue.Ref) error {
	if err := r.checkpoint(ctx); err != nil {
		return err
	}
	_, err := r.svc.observe(ctx, "link_dataset", r.req.Action, domain.EntityDataset, r.req.DatasetID, func(ctx context.Context) (string, error) {
		return target.ID, r.svc.catalogue.LinkToDataset(ctx, r.req.DatasetID, target)
	})
	if err != nil {
		return fmt.Errorf("link %s/%s to dataset %s: %w", target.Collection, target.ID, r.req.DatasetID, err)
	}
	return nil
}
