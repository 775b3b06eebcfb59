package core

import (
	"morphicutil/internal/catalogue"
	"morphicutil/pkg/domain"
)

// record is a uniform view over the typed submission records.
type record struct {
	entity     domain.EntityType
	key        string
	remoteID   string
	collection string
	content    func() map[string]any
}

func (r record) ref() catalogue.Ref {
	return catalogue.Ref{Collection: r.collection, ID: r.remoteID}
}

// contentRecords lists every record that carries a content document, in
// submission order.
func contentRecords(sub *domain.Submission) []record {
	var out []record
	if p := sub.ParentCellLine; p != nil {
		out = append(out, record{domain.EntityParentCellLine, p.Name, p.RemoteID(), catalogue.CollectionBiomaterials, p.Content})
	}
	out = append(out, modifiable(sub)...)
	return out
}

// modifiable lists the records a MODIFY workbook can address by Id.
func modifiable(sub *domain.Submission) []record {
	var out []record
	for _, e := range sub.ExpressionAlterations {
		out = append(out, record{domain.EntityExpressionAlteration, e.AlterationID, e.RemoteID(), catalogue.CollectionProcesses, e.Content})
	}
	for _, c := range sub.CellLines {
		out = append(out, record{domain.EntityCellLine, c.BiomaterialID, c.RemoteID(), catalogue.CollectionBiomaterials, c.Content})
	}
	for _, p := range sub.Products {
		out = append(out, record{p.Entity(), p.BiomaterialID, p.RemoteID(), catalogue.CollectionBiomaterials, p.Content})
	}
	for _, l := range sub.LibraryPreparations {
		out = append(out, record{domain.EntityLibraryPreparation, l.BiomaterialID, l.RemoteID(), catalogue.CollectionBiomaterials, l.Content})
	}
	for _, f := range sub.SequencingFiles {
		out = append(out, record{domain.EntitySequencingFile, f.FileName, f.RemoteID(), catalogue.CollectionFiles, f.Content})
	}
	return out
}

func contentBody(content map[string]any) map[string]any {
	return map[string]any{"content": content}
}

// Process kinds created between a parent and its derived records.
const (
	processDifferentiation      = "differentiation"
	processLibraryPreparation   = "library_preparation"
	processSequencing           = "sequencing"
	processExpressionAlteration = "expression_alteration"
)

func processBody(kind, inputKey string) map[string]any {
	return contentBody(map[string]any{
		"process_type": kind,
		"label":        kind + "_" + inputKey,
	})
}
