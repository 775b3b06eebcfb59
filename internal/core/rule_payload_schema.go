package core

import (
	"context"
	"fmt"

	"morphicutil/pkg/domain"
)

// RulePayloadSchema names violations raised when a record's content does not
// match its schema.
const RulePayloadSchema = "payload_schema"

// PayloadSchemaRule validates every record's content document before it is
// sent. DELETE has no payloads and is skipped.
func PayloadSchemaRule(validator SchemaValidator) Rule {
	return payloadSchemaRule{validator: validator}
}

type payloadSchemaRule struct {
	validator SchemaValidator
}

func (payloadSchemaRule) Name() string { return RulePayloadSchema }

func (r payloadSchemaRule) Evaluate(_ context.Context, in RuleInput) (domain.Result, error) {
	var res domain.Result
	if r.validator == nil || in.Submission == nil || in.Action == domain.ActionDelete {
		return res, nil
	}
	for _, rec := range contentRecords(in.Submission) {
		if err := r.validator.Validate(rec.entity, rec.content()); err != nil {
			res.Add(domain.Violation{
				Rule:     RulePayloadSchema,
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("%s %s: %v", rec.entity, rec.key, err),
				Entity:   rec.entity,
				EntityID: rec.key,
			})
		}
	}
	return res, nil
}
