// Package spreadsheet reads submission workbooks into working tables and typed
// sample records.
package spreadsheet

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"morphicutil/pkg/domain"
)

// Violation rule names raised during extraction.
const (
	RuleMissingSheet     = "missing_sheet"
	RuleMissingColumn    = "missing_column"
	RuleMandatoryField   = "mandatory_field"
	RuleParentCellLine   = "parent_cell_line"
	RuleExclusiveProduct = "exclusive_products"
)

// ErrSheetNotFound is returned when no sheet matches the requested name.
var ErrSheetNotFound = errors.New("sheet not found")

// Extractor reads sheets from one workbook.
type Extractor struct {
	file   *excelize.File
	sheets map[string]string
	offset int
}

// Open opens the workbook at path. The action decides how many template rows
// precede each header.
func Open(path string, action domain.Action) (*Extractor, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	e := &Extractor{file: f, sheets: make(map[string]string), offset: action.HeaderOffset()}
	for _, name := range f.GetSheetList() {
		e.sheets[sheetKey(name)] = name
	}
	return e, nil
}

// Close releases the workbook.
func (e *Extractor) Close() error {
	return e.file.Close()
}

func sheetKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// resolve returns the first existing sheet among the candidate names.
func (e *Extractor) resolve(candidates ...string) (string, bool) {
	for _, c := range candidates {
		if actual, ok := e.sheets[sheetKey(c)]; ok {
			return actual, true
		}
	}
	return "", false
}

// Table loads the named sheet into a working table.
func (e *Extractor) Table(name string) (*Table, error) {
	actual, ok := e.resolve(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSheetNotFound, name)
	}
	rows, err := e.file.GetRows(actual)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", actual, err)
	}
	return newTable(strings.TrimSpace(actual), rows, e.offset), nil
}

// requireColumns records a violation for the first missing column and reports
// whether all are present.
func requireColumns(t *Table, entity domain.EntityType, sink *domain.Result, columns ...string) bool {
	for _, col := range columns {
		if t.HasColumn(col) {
			continue
		}
		sink.Add(domain.Violation{
			Rule:     RuleMissingColumn,
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("The column '%s' does not exist in the %s sheet. The rest of the file will not be processed", col, t.Name),
			Entity:   entity,
			EntityID: col,
		})
		return false
	}
	return true
}

// dropTemplateRows removes rows whose key is empty or starts with a template sentinel.
func dropTemplateRows(t *Table, keyColumn string, sentinels []string) {
	t.filter(func(r Row) bool {
		key := t.Text(r, keyColumn)
		if key == "" || strings.HasPrefix(key, keyColumn) {
			return false
		}
		for _, s := range sentinels {
			if strings.HasPrefix(key, s) {
				return false
			}
		}
		return true
	})
}

func mandatory(sink *domain.Result, entity domain.EntityType, key, message string) {
	sink.Add(domain.Violation{
		Rule:     RuleMandatoryField,
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   entity,
		EntityID: key,
	})
}

func assignID(sink *domain.Result, entity domain.EntityType, key string, remote *domain.Remote, id string) {
	if err := remote.AssignRemoteID(id); err != nil {
		mandatory(sink, entity, key, fmt.Sprintf("%s %s: %v", entity, key, err))
	}
}

// CellLines extracts cell lines and the parent cell line name. All rows must
// share one derived cell line accession.
func (e *Extractor) CellLines(t *Table, sink *domain.Result) ([]*domain.CellLine, string) {
	if !requireColumns(t, domain.EntityCellLine, sink, colCellLineID) {
		return nil, ""
	}
	dropTemplateRows(t, colCellLineID, biomaterialSentinels)

	seen := make(map[string]struct{})
	var distinct []string
	for _, r := range t.Rows {
		v := t.Text(r, colCellLineDerived)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			distinct = append(distinct, v)
		}
	}
	if len(distinct) != 1 {
		sort.Strings(distinct)
		sink.Add(domain.Violation{
			Rule:     RuleParentCellLine,
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("The column '%s' must have the same value across all rows. Found values: [%s]", colCellLineDerived, strings.Join(distinct, ", ")),
			Entity:   domain.EntityParentCellLine,
			EntityID: colCellLineDerived,
		})
		return nil, ""
	}

	out := make([]*domain.CellLine, 0, len(t.Rows))
	for _, r := range t.Rows {
		c := &domain.CellLine{
			BiomaterialID:          t.Text(r, colCellLineID),
			Description:            t.Value(r, colCellLineDescription),
			DerivedFromAccession:   t.Text(r, colCellLineDerived),
			CloneID:                t.Text(r, colCellLineCloneID),
			ProtocolID:             t.Text(r, colAlterationProtocol),
			Zygosity:               t.Value(r, colCellLineZygosity),
			CellType:               t.Value(r, colCellLineType),
			ExpressionAlterationID: t.Text(r, colExpressionAlterationID),
			Line:                   r.Line,
		}
		if c.DerivedFromAccession == "" || c.CellType == nil {
			mandatory(sink, domain.EntityCellLine, c.BiomaterialID,
				fmt.Sprintf("Mandatory fields (derived_accession, cell_type) are required for Cell line entity: %s", c.BiomaterialID))
		}
		assignID(sink, domain.EntityCellLine, c.BiomaterialID, &c.Remote, t.Text(r, IDColumn))
		out = append(out, c)
	}
	return out, distinct[0]
}

// Products extracts differentiated or undifferentiated products; both sheets
// share the same columns.
func (e *Extractor) Products(t *Table, undifferentiated bool, sink *domain.Result) []*domain.DifferentiatedCellLine {
	entity := domain.EntityDifferentiatedCellLine
	label := "Differentiated Cell line"
	if undifferentiated {
		entity = domain.EntityUndifferentiated
		label = "Undifferentiated Cell line"
	}
	if !requireColumns(t, entity, sink, colProductID) {
		return nil
	}
	dropTemplateRows(t, colProductID, biomaterialSentinels)

	out := make([]*domain.DifferentiatedCellLine, 0, len(t.Rows))
	for _, r := range t.Rows {
		p := &domain.DifferentiatedCellLine{
			BiomaterialID:            t.Text(r, colProductID),
			Description:              t.Value(r, colProductDescription),
			InputBiomaterialID:       t.Text(r, colCellLineID),
			ProtocolID:               t.Text(r, colProductProtocol),
			TimepointValue:           t.Value(r, colProductTimepoint),
			TimepointUnit:            t.Value(r, colProductTimeUnit),
			TerminallyDifferentiated: t.Value(r, colProductTerminal),
			ModelSystem:              t.Value(r, colProductModelOrgan),
			Undifferentiated:         undifferentiated,
			Line:                     r.Line,
		}
		if p.InputBiomaterialID == "" {
			mandatory(sink, entity, p.BiomaterialID,
				fmt.Sprintf("Input Cell line ID cannot be null for %s: %s", label, p.BiomaterialID))
		}
		assignID(sink, entity, p.BiomaterialID, &p.Remote, t.Text(r, IDColumn))
		out = append(out, p)
	}
	return out
}

// LibraryPreparations extracts library preparations.
func (e *Extractor) LibraryPreparations(t *Table, sink *domain.Result) []*domain.LibraryPreparation {
	if !requireColumns(t, domain.EntityLibraryPreparation, sink,
		colLibraryID, colDissociationProtocol, colProductID, colLibraryProtocol) {
		return nil
	}
	dropTemplateRows(t, colLibraryID, biomaterialSentinels)

	out := make([]*domain.LibraryPreparation, 0, len(t.Rows))
	for _, r := range t.Rows {
		l := &domain.LibraryPreparation{
			BiomaterialID:               t.Text(r, colLibraryID),
			ProtocolID:                  t.Text(r, colLibraryProtocol),
			DissociationProtocolID:      t.Text(r, colDissociationProtocol),
			DifferentiatedBiomaterialID: t.Text(r, colProductID),
			AverageFragmentSize:         t.Value(r, colAverageFragmentSize),
			InputAmountValue:            t.Value(r, colInputAmountValue),
			InputAmountUnit:             t.Value(r, colInputAmountUnit),
			FinalYieldValue:             t.Value(r, colFinalYieldValue),
			FinalYieldUnit:              t.Value(r, colFinalYieldUnit),
			ConcentrationValue:          t.Value(r, colConcentrationValue),
			ConcentrationUnit:           t.Value(r, colConcentrationUnit),
			PCRCycles:                   t.Value(r, colPCRCycles),
			PCRCyclesForSampleIndex:     t.Value(r, colPCRCyclesSampleIndex),
			Line:                        r.Line,
		}
		if l.DissociationProtocolID == "" {
			mandatory(sink, domain.EntityLibraryPreparation, l.BiomaterialID,
				fmt.Sprintf("Dissociation Protocol ID cannot be null for Library Preparation: %s", l.BiomaterialID))
		}
		if l.DifferentiatedBiomaterialID == "" {
			mandatory(sink, domain.EntityLibraryPreparation, l.BiomaterialID,
				fmt.Sprintf("Differentiated Cell Line ID cannot be null for Library Preparation: %s", l.BiomaterialID))
		}
		if l.ProtocolID == "" {
			mandatory(sink, domain.EntityLibraryPreparation, l.BiomaterialID,
				fmt.Sprintf("Library Preparation Protocol ID cannot be null for Library Preparation: %s", l.BiomaterialID))
		}
		assignID(sink, domain.EntityLibraryPreparation, l.BiomaterialID, &l.Remote, t.Text(r, IDColumn))
		out = append(out, l)
	}
	return out
}

// SequencingFiles extracts sequencing files.
func (e *Extractor) SequencingFiles(t *Table, sink *domain.Result) []*domain.SequencingFile {
	if !requireColumns(t, domain.EntitySequencingFile, sink,
		colFileName, colLibraryID, colSequencingProtocol, colReadIndex) {
		return nil
	}
	dropTemplateRows(t, colFileName, fileSentinels)

	out := make([]*domain.SequencingFile, 0, len(t.Rows))
	for _, r := range t.Rows {
		f := &domain.SequencingFile{
			FileName:             t.Text(r, colFileName),
			LibraryPreparationID: t.Text(r, colLibraryID),
			SequencingProtocolID: t.Text(r, colSequencingProtocol),
			ReadIndex:            t.Value(r, colReadIndex),
			LaneIndex:            t.Value(r, colLaneIndex),
			ReadLength:           t.Value(r, colReadLength),
			Checksum:             t.Value(r, colChecksum),
			RunID:                t.Text(r, colRunID),
			Line:                 r.Line,
		}
		if f.LibraryPreparationID == "" {
			mandatory(sink, domain.EntitySequencingFile, f.FileName,
				fmt.Sprintf("Library Preparation ID cannot be null for Sequencing File: %s", f.FileName))
		}
		if f.SequencingProtocolID == "" {
			mandatory(sink, domain.EntitySequencingFile, f.FileName,
				fmt.Sprintf("Sequencing Protocol ID cannot be null for Sequencing File: %s", f.FileName))
		}
		if f.ReadIndex == nil {
			mandatory(sink, domain.EntitySequencingFile, f.FileName,
				fmt.Sprintf("Read Index cannot be null for Sequencing File: %s", f.FileName))
		}
		assignID(sink, domain.EntitySequencingFile, f.FileName, &f.Remote, t.Text(r, IDColumn))
		out = append(out, f)
	}
	return out
}

// ExpressionAlterations extracts expression alteration strategies.
func (e *Extractor) ExpressionAlterations(t *Table, sink *domain.Result) []*domain.ExpressionAlteration {
	if !requireColumns(t, domain.EntityExpressionAlteration, sink, colExpressionAlterationID) {
		return nil
	}
	dropTemplateRows(t, colExpressionAlterationID, alterationSentinels)

	out := make([]*domain.ExpressionAlteration, 0, len(t.Rows))
	for _, r := range t.Rows {
		a := &domain.ExpressionAlteration{
			AlterationID:           t.Text(r, colExpressionAlterationID),
			ProtocolID:             t.Text(r, colAlterationProtocol),
			AlleleSpecific:         t.Value(r, colAlterationAlleleSpecific),
			AlteredGeneSymbols:     t.Value(r, colAlterationGeneSymbols),
			AlteredGeneIDs:         t.Value(r, colAlterationGeneIDs),
			TargetedGenomicRegion:  t.Value(r, colAlterationRegion),
			ExpectedAlterationType: t.Value(r, colAlterationExpectedType),
			SgRNATarget:            t.Value(r, colAlterationSgRNA),
			MethodText:             t.Value(r, colAlterationMethod),
			Line:                   r.Line,
		}
		assignID(sink, domain.EntityExpressionAlteration, a.AlterationID, &a.Remote, t.Text(r, IDColumn))
		out = append(out, a)
	}
	return out
}
