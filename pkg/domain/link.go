package domain

import "fmt"

// RuleLineageIntegrity names violations raised while linking parents to children.
const RuleLineageIntegrity = "lineage_integrity"

// LinkSpec describes one parent/child edge of the hierarchy.
type LinkSpec[P, C any] struct {
	ParentType  EntityType
	ChildType   EntityType
	ParentLabel string
	ChildLabel  string
	ParentKey   func(P) string
	ChildKey    func(C) string
	// ChildRef returns the parent key the child references.
	ChildRef func(C) string
	// Attach is called once per matched pair, in child order.
	Attach func(P, C)
	// OrphanParent is the severity for parents that no child references.
	OrphanParent Severity
}

// Link attaches every child to the parent whose natural key matches its
// reference. It reports one violation per child with no matching parent and
// one per parent with no child. Both scans always run.
func Link[P, C any](parents []P, children []C, spec LinkSpec[P, C]) Result {
	var res Result

	index := make(map[string]P, len(parents))
	for _, p := range parents {
		key := spec.ParentKey(p)
		if _, dup := index[key]; !dup {
			index[key] = p
		}
	}

	referenced := make(map[string]struct{}, len(parents))
	for _, c := range children {
		ref := spec.ChildRef(c)
		parent, ok := index[ref]
		if !ok || ref == "" {
			cause := "no reference"
			if ref != "" {
				cause = "references " + ref
			}
			res.Add(Violation{
				Rule:     RuleLineageIntegrity,
				Severity: SeverityBlock,
				Message:  fmt.Sprintf("Missing %s for %s and ID is %s (%s)", spec.ParentLabel, spec.ChildLabel, spec.ChildKey(c), cause),
				Entity:   spec.ChildType,
				EntityID: spec.ChildKey(c),
			})
			continue
		}
		referenced[ref] = struct{}{}
		if spec.Attach != nil {
			spec.Attach(parent, c)
		}
	}

	severity := spec.OrphanParent
	if severity == "" {
		severity = SeverityWarn
	}
	for _, p := range parents {
		key := spec.ParentKey(p)
		if _, ok := referenced[key]; ok {
			continue
		}
		res.Add(Violation{
			Rule:     RuleLineageIntegrity,
			Severity: severity,
			Message:  fmt.Sprintf("Orphaned entity %s and ID is %s", spec.ParentLabel, key),
			Entity:   spec.ParentType,
			EntityID: key,
		})
	}
	return res
}
