package core

import (
	"context"

	"morphicutil/pkg/domain"
)

// LineageIntegrityRule links the submission hierarchy and reports children
// without a parent and parents without children. It does nothing for MODIFY
// and DELETE, which address rows by identifier.
func LineageIntegrityRule(policy OrphanPolicy) Rule {
	return lineageIntegrityRule{policy: policy}
}

type lineageIntegrityRule struct {
	policy OrphanPolicy
}

func (lineageIntegrityRule) Name() string { return domain.RuleLineageIntegrity }

func (r lineageIntegrityRule) Evaluate(_ context.Context, in RuleInput) (domain.Result, error) {
	if in.Action != domain.ActionAdd || in.Submission == nil {
		return domain.Result{}, nil
	}
	return LinkWorkbook(in.Submission, r.policy), nil
}

// LinkWorkbook attaches every record to its parent. Previous links are
// cleared first so it can run more than once.
func LinkWorkbook(sub *domain.Submission, policy OrphanPolicy) domain.Result {
	var res domain.Result
	orphans := policy.Severity()

	for _, cl := range sub.CellLines {
		cl.Products = nil
		cl.Alteration = nil
	}
	for _, p := range sub.Products {
		p.LibraryPreparations = nil
	}
	for _, lp := range sub.LibraryPreparations {
		lp.SequencingFiles = nil
	}

	productType, productLabel := domain.EntityDifferentiatedCellLine, "Differentiated Cell line"
	if sub.Undifferentiated() {
		productType, productLabel = domain.EntityUndifferentiated, "Undifferentiated Cell line"
	}

	res.Merge(domain.Link(sub.CellLines, sub.Products, domain.LinkSpec[*domain.CellLine, *domain.DifferentiatedCellLine]{
		ParentType:   domain.EntityCellLine,
		ChildType:    productType,
		ParentLabel:  "Cell Line",
		ChildLabel:   productLabel,
		ParentKey:    func(c *domain.CellLine) string { return c.BiomaterialID },
		ChildKey:     func(p *domain.DifferentiatedCellLine) string { return p.BiomaterialID },
		ChildRef:     func(p *domain.DifferentiatedCellLine) string { return p.InputBiomaterialID },
		Attach:       func(c *domain.CellLine, p *domain.DifferentiatedCellLine) { c.Products = append(c.Products, p) },
		OrphanParent: orphans,
	}))

	res.Merge(domain.Link(sub.Products, sub.LibraryPreparations, domain.LinkSpec[*domain.DifferentiatedCellLine, *domain.LibraryPreparation]{
		ParentType:  productType,
		ChildType:   domain.EntityLibraryPreparation,
		ParentLabel: productLabel,
		ChildLabel:  "Library Preparation",
		ParentKey:   func(p *domain.DifferentiatedCellLine) string { return p.BiomaterialID },
		ChildKey:    func(l *domain.LibraryPreparation) string { return l.BiomaterialID },
		ChildRef:    func(l *domain.LibraryPreparation) string { return l.DifferentiatedBiomaterialID },
		Attach: func(p *domain.DifferentiatedCellLine, l *domain.LibraryPreparation) {
			p.LibraryPreparations = append(p.LibraryPreparations, l)
		},
		OrphanParent: orphans,
	}))

	res.Merge(domain.Link(sub.LibraryPreparations, sub.SequencingFiles, domain.LinkSpec[*domain.LibraryPreparation, *domain.SequencingFile]{
		ParentType:   domain.EntityLibraryPreparation,
		ChildType:    domain.EntitySequencingFile,
		ParentLabel:  "Library Preparation",
		ChildLabel:   "Sequencing File",
		ParentKey:    func(l *domain.LibraryPreparation) string { return l.BiomaterialID },
		ChildKey:     func(f *domain.SequencingFile) string { return f.FileName },
		ChildRef:     func(f *domain.SequencingFile) string { return f.LibraryPreparationID },
		Attach:       func(l *domain.LibraryPreparation, f *domain.SequencingFile) { l.SequencingFiles = append(l.SequencingFiles, f) },
		OrphanParent: orphans,
	}))

	// Without an alteration sheet the reference stays a plain content field.
	if len(sub.ExpressionAlterations) == 0 {
		return res
	}
	var altered []*domain.CellLine
	for _, cl := range sub.CellLines {
		if cl.ExpressionAlterationID != "" {
			altered = append(altered, cl)
		}
	}
	res.Merge(domain.Link(sub.ExpressionAlterations, altered, domain.LinkSpec[*domain.ExpressionAlteration, *domain.CellLine]{
		ParentType:   domain.EntityExpressionAlteration,
		ChildType:    domain.EntityCellLine,
		ParentLabel:  "Expression Alteration Strategy",
		ChildLabel:   "Cell Line",
		ParentKey:    func(e *domain.ExpressionAlteration) string { return e.AlterationID },
		ChildKey:     func(c *domain.CellLine) string { return c.BiomaterialID },
		ChildRef:     func(c *domain.CellLine) string { return c.ExpressionAlterationID },
		Attach:       func(e *domain.ExpressionAlteration, c *domain.CellLine) { c.Alteration = e },
		OrphanParent: orphans,
	}))
	return res
}
