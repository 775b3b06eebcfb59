// Package domain defines the sample hierarchy read from submission workbooks,
// the violations produced while validating it, and the contracts shared by the
// submission pipeline and its persistence adapters.
package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Action selects how a workbook is applied to the catalogue.
type Action string

// Supported submission actions.
const (
	ActionAdd    Action = "ADD"
	ActionModify Action = "MODIFY"
	ActionDelete Action = "DELETE"
)

// ParseAction normalises user input into an Action.
func ParseAction(raw string) (Action, error) {
	switch Action(strings.ToUpper(strings.TrimSpace(raw))) {
	case ActionAdd:
		return ActionAdd, nil
	case ActionModify:
		return ActionModify, nil
	case ActionDelete:
		return ActionDelete, nil
	default:
		return "", fmt.Errorf("unknown action %q (expected ADD, MODIFY or DELETE)", raw)
	}
}

// HeaderOffset is the number of template rows above the header row.
func (a Action) HeaderOffset() int {
	if a == ActionModify {
		return 0
	}
	return 3
}

// EntityType identifies a record kind in the sample hierarchy.
type EntityType string

// Entity kinds handled by the submission pipeline.
const (
	EntityParentCellLine         EntityType = "parent_cell_line"
	EntityCellLine               EntityType = "cell_line"
	EntityDifferentiatedCellLine EntityType = "differentiated_cell_line"
	EntityUndifferentiated       EntityType = "undifferentiated_cell_line"
	EntityLibraryPreparation     EntityType = "library_preparation"
	EntitySequencingFile         EntityType = "sequence_file"
	EntityExpressionAlteration   EntityType = "expression_alteration"
	EntityProcess                EntityType = "process"
	EntityEnvelope               EntityType = "submission_envelope"
	EntityDataset                EntityType = "dataset"
)

// ErrRemoteIDAssigned is returned when a record already carries a different
// catalogue identifier.
var ErrRemoteIDAssigned = errors.New("remote identifier already assigned")

// Remote holds the catalogue identifier of a record. The zero value is unassigned.
type Remote struct {
	remoteID string
}

// RemoteID returns the assigned identifier or "".
func (r *Remote) RemoteID() string { return r.remoteID }

// AssignRemoteID records the catalogue identifier. Re-assigning the same value
// is a no-op; assigning a different one fails.
func (r *Remote) AssignRemoteID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	if r.remoteID != "" && r.remoteID != id {
		return fmt.Errorf("%w: have %s, got %s", ErrRemoteIDAssigned, r.remoteID, id)
	}
	r.remoteID = id
	return nil
}

// ParentCellLine is the single source line every cell line derives from.
type ParentCellLine struct {
	Remote
	Name string
}

// Content renders the catalogue document body.
func (p *ParentCellLine) Content() map[string]any {
	return map[string]any{
		"label": p.Name,
	}
}

// ExpressionAlteration describes a gene expression alteration strategy.
type ExpressionAlteration struct {
	Remote
	AlterationID           string
	ProtocolID             string
	AlleleSpecific         any
	AlteredGeneSymbols     any
	AlteredGeneIDs         any
	TargetedGenomicRegion  any
	ExpectedAlterationType any
	SgRNATarget            any
	MethodText             any
	Line                   int
}

// Content renders the catalogue document body.
func (e *ExpressionAlteration) Content() map[string]any {
	return map[string]any{
		"expression_alteration_label": e.AlterationID,
		"protocol_id":                 optionalText(e.ProtocolID),
		"allele_specific":             JSONValue(e.AlleleSpecific),
		"altered_gene_symbols":        JSONValue(e.AlteredGeneSymbols),
		"altered_gene_ids":            JSONValue(e.AlteredGeneIDs),
		"targeted_genomic_region":     JSONValue(e.TargetedGenomicRegion),
		"expected_alteration_type":    JSONValue(e.ExpectedAlterationType),
		"sgrna_target":                JSONValue(e.SgRNATarget),
		"protocol_method_text":        JSONValue(e.MethodText),
	}
}

// CellLine is a clonal line derived from the parent cell line.
type CellLine struct {
	Remote
	BiomaterialID          string
	Description            any
	DerivedFromAccession   string
	CloneID                string
	ProtocolID             string
	Zygosity               any
	CellType               any
	ExpressionAlterationID string
	Line                   int

	Products   []*DifferentiatedCellLine
	Alteration *ExpressionAlteration
}

// Content renders the catalogue document body.
func (c *CellLine) Content() map[string]any {
	content := map[string]any{
		"label":                  c.BiomaterialID,
		"description":            JSONValue(c.Description),
		"derived_from_cell_line": optionalText(c.DerivedFromAccession),
		"zygosity":               JSONValue(c.Zygosity),
		"type":                   JSONValue(c.CellType),
	}
	setIfPresent(content, "clone_id", c.CloneID)
	setIfPresent(content, "protocol_id", c.ProtocolID)
	setIfPresent(content, "expression_alteration_id", c.ExpressionAlterationID)
	return content
}

// DifferentiatedCellLine is a product derived from a cell line. Products read
// from the undifferentiated sheet share the shape and set Undifferentiated.
type DifferentiatedCellLine struct {
	Remote
	BiomaterialID            string
	Description              any
	InputBiomaterialID       string
	ProtocolID               string
	TimepointValue           any
	TimepointUnit            any
	TerminallyDifferentiated any
	ModelSystem              any
	Undifferentiated         bool
	Line                     int

	LibraryPreparations []*LibraryPreparation
}

// Entity reports the entity kind according to the source sheet.
func (d *DifferentiatedCellLine) Entity() EntityType {
	if d.Undifferentiated {
		return EntityUndifferentiated
	}
	return EntityDifferentiatedCellLine
}

// Content renders the catalogue document body.
func (d *DifferentiatedCellLine) Content() map[string]any {
	content := map[string]any{
		"label":                     d.BiomaterialID,
		"description":               JSONValue(d.Description),
		"timepoint_value":           JSONValue(d.TimepointValue),
		"timepoint_unit":            JSONValue(d.TimepointUnit),
		"terminally_differentiated": JSONValue(d.TerminallyDifferentiated),
		"model_system":              JSONValue(d.ModelSystem),
	}
	setIfPresent(content, "input_biomaterial_id", d.InputBiomaterialID)
	setIfPresent(content, "protocol_id", d.ProtocolID)
	return content
}

// LibraryPreparation is a sequencing library prepared from a product.
type LibraryPreparation struct {
	Remote
	BiomaterialID               string
	ProtocolID                  string
	DissociationProtocolID      string
	DifferentiatedBiomaterialID string
	AverageFragmentSize         any
	InputAmountValue            any
	InputAmountUnit             any
	FinalYieldValue             any
	FinalYieldUnit              any
	ConcentrationValue          any
	ConcentrationUnit           any
	PCRCycles                   any
	PCRCyclesForSampleIndex     any
	Line                        int

	SequencingFiles []*SequencingFile
}

// Content renders the catalogue document body.
func (l *LibraryPreparation) Content() map[string]any {
	content := map[string]any{
		"label":                       l.BiomaterialID,
		"average_fragment_size":       JSONValue(l.AverageFragmentSize),
		"input_amount_value":          JSONValue(l.InputAmountValue),
		"input_amount_unit":           JSONValue(l.InputAmountUnit),
		"total_yield_value":           JSONValue(l.FinalYieldValue),
		"total_yield_unit":            JSONValue(l.FinalYieldUnit),
		"concentration_value":         JSONValue(l.ConcentrationValue),
		"concentration_unit":          JSONValue(l.ConcentrationUnit),
		"pcr_cycles":                  JSONValue(l.PCRCycles),
		"pcr_cycles_for_sample_index": JSONValue(l.PCRCyclesForSampleIndex),
	}
	setIfPresent(content, "protocol_id", l.ProtocolID)
	setIfPresent(content, "dissociation_protocol_id", l.DissociationProtocolID)
	setIfPresent(content, "differentiated_biomaterial_id", l.DifferentiatedBiomaterialID)
	return content
}

// SequencingFile is a data file produced from a library preparation.
type SequencingFile struct {
	Remote
	FileName             string
	LibraryPreparationID string
	SequencingProtocolID string
	ReadIndex            any
	LaneIndex            any
	ReadLength           any
	Checksum             any
	RunID                string
	Line                 int
}

// Extension returns the file name suffix after the first dot, e.g. "fastq.gz".
func (s *SequencingFile) Extension() string {
	base := s.FileName
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.Index(base, "."); i > 0 {
		return base[i+1:]
	}
	return ""
}

// Content renders the catalogue document body.
func (s *SequencingFile) Content() map[string]any {
	content := map[string]any{
		"label":       s.FileName,
		"extension":   optionalText(s.Extension()),
		"read_index":  JSONValue(s.ReadIndex),
		"lane_index":  JSONValue(s.LaneIndex),
		"read_length": JSONValue(s.ReadLength),
		"checksum":    JSONValue(s.Checksum),
	}
	setIfPresent(content, "library_preparation_id", s.LibraryPreparationID)
	setIfPresent(content, "sequencing_protocol_id", s.SequencingProtocolID)
	setIfPresent(content, "run_id", s.RunID)
	return content
}

// Document wraps the content with the top-level fields the file endpoint expects.
func (s *SequencingFile) Document() map[string]any {
	return map[string]any{
		"content":  s.Content(),
		"fileName": s.FileName,
	}
}

// Submission is the typed entity graph read from one workbook.
type Submission struct {
	ParentCellLine        *ParentCellLine
	CellLines             []*CellLine
	Products              []*DifferentiatedCellLine
	LibraryPreparations   []*LibraryPreparation
	SequencingFiles       []*SequencingFile
	ExpressionAlterations []*ExpressionAlteration
}

// Undifferentiated reports whether the products came from the undifferentiated sheet.
func (s *Submission) Undifferentiated() bool {
	for _, p := range s.Products {
		if p.Undifferentiated {
			return true
		}
	}
	return false
}

// JSONValue maps a cell value to something encoding/json accepts. Non-finite
// floats become nil so they serialise as null.
func JSONValue(v any) any {
	switch val := v.(type) {
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil
		}
	case float32:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
	case string:
		if val == "" {
			return nil
		}
	}
	return v
}

func optionalText(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func setIfPresent(content map[string]any, key, value string) {
	if value != "" {
		content[key] = value
	}
}
