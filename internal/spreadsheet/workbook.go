package spreadsheet

import (
	"errors"
	"fmt"

	"morphicutil/pkg/domain"
)

// Workbook is the extracted entity graph together with the working tables it
// was read from. Tables are nil when their sheet is absent.
type Workbook struct {
	Path       string
	Action     domain.Action
	Submission domain.Submission

	CellLines             *Table
	Products              *Table
	LibraryPreparations   *Table
	SequencingFiles       *Table
	ExpressionAlterations *Table
}

// Read extracts every sheet of the workbook at path. Structural problems are
// accumulated in the returned result; the error is reserved for I/O failures.
func Read(path string, action domain.Action) (*Workbook, domain.Result, error) {
	var sink domain.Result
	e, err := Open(path, action)
	if err != nil {
		return nil, sink, err
	}
	defer func() { _ = e.Close() }()

	wb := &Workbook{Path: path, Action: action}
	sub := &wb.Submission

	if wb.CellLines, err = e.load(cellLineSheets, true, &sink); err != nil {
		return nil, sink, err
	}
	if wb.CellLines != nil {
		var parent string
		sub.CellLines, parent = e.CellLines(wb.CellLines, &sink)
		if parent != "" {
			sub.ParentCellLine = &domain.ParentCellLine{Name: parent}
		}
	}

	if err := e.readProducts(wb, &sink); err != nil {
		return nil, sink, err
	}

	if wb.LibraryPreparations, err = e.load(libraryPreparationSheets, true, &sink); err != nil {
		return nil, sink, err
	}
	if wb.LibraryPreparations != nil {
		sub.LibraryPreparations = e.LibraryPreparations(wb.LibraryPreparations, &sink)
	}

	if wb.SequencingFiles, err = e.load(sequencingFileSheets, true, &sink); err != nil {
		return nil, sink, err
	}
	if wb.SequencingFiles != nil {
		sub.SequencingFiles = e.SequencingFiles(wb.SequencingFiles, &sink)
	}

	if wb.ExpressionAlterations, err = e.load(expressionAlterationSheets, false, &sink); err != nil {
		return nil, sink, err
	}
	if wb.ExpressionAlterations != nil {
		sub.ExpressionAlterations = e.ExpressionAlterations(wb.ExpressionAlterations, &sink)
	}
	return wb, sink, nil
}

// load reads the first sheet matching candidates. A missing required sheet is
// a violation; a missing optional one is silently nil.
func (e *Extractor) load(candidates []string, required bool, sink *domain.Result) (*Table, error) {
	t, err := e.Table(firstExisting(e, candidates))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, ErrSheetNotFound) {
		return nil, err
	}
	if required {
		sink.Add(domain.Violation{
			Rule:     RuleMissingSheet,
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("Sheet '%s' not found in the spreadsheet.", candidates[0]),
			EntityID: candidates[0],
		})
	}
	return nil, nil
}

func firstExisting(e *Extractor, candidates []string) string {
	if actual, ok := e.resolve(candidates...); ok {
		return actual
	}
	return candidates[0]
}

// readProducts loads whichever product sheet carries data. Both carrying
// data is a violation.
func (e *Extractor) readProducts(wb *Workbook, sink *domain.Result) error {
	var scratch domain.Result
	diff, err := e.load(differentiatedSheets, false, &scratch)
	if err != nil {
		return err
	}
	undiff, err := e.load(undifferentiatedSheets, false, &scratch)
	if err != nil {
		return err
	}

	var diffRecords, undiffRecords []*domain.DifferentiatedCellLine
	var diffSink, undiffSink domain.Result
	if diff != nil {
		diffRecords = e.Products(diff, false, &diffSink)
	}
	if undiff != nil {
		undiffRecords = e.Products(undiff, true, &undiffSink)
	}

	switch {
	case diff == nil && undiff == nil:
		sink.Add(domain.Violation{
			Rule:     RuleMissingSheet,
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("Sheet '%s' not found in the spreadsheet.", differentiatedSheets[0]),
			EntityID: differentiatedSheets[0],
		})
	case len(diffRecords) > 0 && len(undiffRecords) > 0:
		sink.Add(domain.Violation{
			Rule:     RuleExclusiveProduct,
			Severity: domain.SeverityBlock,
			Message:  "The workbook contains both differentiated and undifferentiated products; submit them in separate workbooks",
			Entity:   domain.EntityUndifferentiated,
		})
		wb.Products = diff
		wb.Submission.Products = diffRecords
	case len(undiffRecords) > 0 || diff == nil:
		wb.Products = undiff
		wb.Submission.Products = undiffRecords
	default:
		wb.Products = diff
		wb.Submission.Products = diffRecords
	}

	// A sheet that was not picked still reports its problems when it has rows.
	if diff != nil && (wb.Products == diff || diff.Len() > 0) {
		sink.Merge(diffSink)
	}
	if undiff != nil && (wb.Products == undiff || undiff.Len() > 0) {
		sink.Merge(undiffSink)
	}
	return nil
}

// Tables returns the non-nil working tables in a fixed order.
func (w *Workbook) Tables() []*Table {
	var out []*Table
	for _, t := range []*Table{w.CellLines, w.Products, w.LibraryPreparations, w.SequencingFiles, w.ExpressionAlterations} {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}

// SetIdentifier writes a catalogue identifier into the Id column of the row
// holding key. It reports false when the entity has no working table or no
// row matches.
func (w *Workbook) SetIdentifier(entity domain.EntityType, key, id string) bool {
	var (
		t      *Table
		keyCol string
	)
	switch entity {
	case domain.EntityCellLine:
		t, keyCol = w.CellLines, colCellLineID
	case domain.EntityDifferentiatedCellLine, domain.EntityUndifferentiated:
		t, keyCol = w.Products, colProductID
	case domain.EntityLibraryPreparation:
		t, keyCol = w.LibraryPreparations, colLibraryID
	case domain.EntitySequencingFile:
		t, keyCol = w.SequencingFiles, colFileName
	case domain.EntityExpressionAlteration:
		t, keyCol = w.ExpressionAlterations, colExpressionAlterationID
	}
	if t == nil {
		return false
	}
	return t.SetValue(keyCol, key, IDColumn, id) > 0
}
