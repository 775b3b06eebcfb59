package spreadsheet

import (
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

type sheetFixture struct {
	name string
	rows [][]any
}

// templateRows mimics the three instruction rows above the header in ADD workbooks.
func templateRows() [][]any {
	return [][]any{
		{"Template instructions"},
		{"Describe your samples"},
		{""},
	}
}

func writeWorkbook(t *testing.T, sheets ...sheetFixture) string {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	for i, sheet := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet.name); err != nil {
				t.Fatalf("rename sheet: %v", err)
			}
		} else if _, err := f.NewSheet(sheet.name); err != nil {
			t.Fatalf("new sheet: %v", err)
		}
		for r, row := range sheet.rows {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			if err != nil {
				t.Fatalf("cell name: %v", err)
			}
			values := row
			if err := f.SetSheetRow(sheet.name, cell, &values); err != nil {
				t.Fatalf("set row: %v", err)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "submission.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save workbook: %v", err)
	}
	return path
}

func withTemplate(rows ...[]any) [][]any {
	return append(templateRows(), rows...)
}

func cellLineSheet(rows ...[]any) sheetFixture {
	header := []any{colCellLineID, colCellLineDescription, colCellLineDerived, colCellLineType, colExpressionAlterationID}
	all := append([][]any{header, {"A unique ID for the biomaterial.", "", "", "", ""}, {sentinelFillOut}}, rows...)
	return sheetFixture{name: "Cell line", rows: withTemplate(all...)}
}

func productSheet(name string, rows ...[]any) sheetFixture {
	header := []any{colProductID, colCellLineID, colProductTimepoint, colProductTimeUnit}
	return sheetFixture{name: name, rows: withTemplate(append([][]any{header}, rows...)...)}
}

func librarySheet(rows ...[]any) sheetFixture {
	header := []any{colLibraryID, colDissociationProtocol, colProductID, colLibraryProtocol, colAverageFragmentSize}
	return sheetFixture{name: "Library preparation", rows: withTemplate(append([][]any{header}, rows...)...)}
}

func fileSheet(rows ...[]any) sheetFixture {
	header := []any{colFileName, colLibraryID, colSequencingProtocol, colReadIndex, colRunID}
	all := append([][]any{header, {"The name of the file."}}, rows...)
	return sheetFixture{name: "Sequence file", rows: withTemplate(all...)}
}

func validSheets() []sheetFixture {
	return []sheetFixture{
		cellLineSheet(
			[]any{"CL-1", "first line", "PCL-1", "iPSC", "EA-1"},
			[]any{"CL-2", "second line", "PCL-1", "iPSC", ""},
		),
		productSheet("Differentiated cell line",
			[]any{"DP-1", "CL-1", 7, "day"},
			[]any{"DP-2", "CL-2", "NaN", "day"},
		),
		librarySheet(
			[]any{"LP-1", "DISS-1", "DP-1", "LIB-1", 350.5},
			[]any{"LP-2", "DISS-1", "DP-2", "LIB-1", ""},
		),
		fileSheet(
			[]any{"LP-1_R1.fastq.gz", "LP-1", "SEQ-1", "read1", "run-1"},
			[]any{"LP-2_R1.fastq.gz", "LP-2", "SEQ-1", "read1", ""},
		),
		{name: "Expression alteration strategy ", rows: withTemplate(
			[]any{colExpressionAlterationID, colAlterationProtocol, colAlterationGeneSymbols},
			[]any{"ID should have no spaces. For example: JAXPE0001_MEIS1, MSKKI119_MEF2C, NWU_AID"},
			[]any{"EA-1", "EAP-1", "MEIS1"},
		)},
	}
}
