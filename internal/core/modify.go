package core

import (
	"context"
	"fmt"

	"morphicutil/pkg/domain"
)

const contactSupport = "contact support: some records may have been modified"

// modify patches every record that carries a catalogue identifier. A failed
// patch does not stop the remaining ones; MODIFY has no automatic rollback.
func (r *run) modify(ctx context.Context) error {
	var failures []string
	var first error
	for _, rec := range modifiable(r.req.Submission) {
		if rec.remoteID == "" {
			continue
		}
		if err := r.checkpoint(ctx); err != nil {
			failures = append(failures, err.Error())
			if first == nil {
				first = err
			}
			break
		}
		ref := rec.ref()
		_, err := r.svc.observe(ctx, "patch_"+rec.collection, r.req.Action, rec.entity, rec.key, func(ctx context.Context) (string, error) {
			return ref.ID, r.svc.catalogue.Patch(ctx, ref, contentBody(rec.content()))
		})
		if err != nil {
			msg := fmt.Sprintf("%s %s (%s): %v", rec.entity, rec.key, rec.remoteID, err)
			failures = append(failures, msg)
			if first == nil {
				first = err
			}
			r.svc.logger.Warn("patch failed", "run", r.id, "entity", rec.entity, "key", rec.key, "error", err)
			continue
		}
		r.note(ctx, domain.ResourceRecord{Entity: rec.entity, Key: rec.key, RemoteID: rec.remoteID, Operation: operationModify, At: r.svc.clock.Now()})
	}
	if len(failures) == 0 {
		return nil
	}
	return &domain.SubmissionError{Errors: append(failures, contactSupport), Err: first}
}
