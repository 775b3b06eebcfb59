package core

import (
	"context"
	"fmt"

	"morphicutil/pkg/domain"
)

// RuleModifyIdentifiers names warnings for MODIFY rows that carry no catalogue Id.
const RuleModifyIdentifiers = "modify_identifiers"

// ModifyIdentifiersRule reports MODIFY rows that cannot be patched because
// their Id column is empty. Those rows are skipped, not rejected.
func ModifyIdentifiersRule() Rule {
	return modifyIdentifiersRule{}
}

type modifyIdentifiersRule struct{}

func (modifyIdentifiersRule) Name() string { return RuleModifyIdentifiers }

func (modifyIdentifiersRule) Evaluate(_ context.Context, in RuleInput) (domain.Result, error) {
	var res domain.Result
	if in.Action != domain.ActionModify || in.Submission == nil {
		return res, nil
	}
	for _, rec := range modifiable(in.Submission) {
		if rec.remoteID != "" {
			continue
		}
		res.Add(domain.Violation{
			Rule:     RuleModifyIdentifiers,
			Severity: domain.SeverityWarn,
			Message:  fmt.Sprintf("%s %s has no Id and will not be modified", rec.entity, rec.key),
			Entity:   rec.entity,
			EntityID: rec.key,
		})
	}
	return res, nil
}
