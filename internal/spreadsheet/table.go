package spreadsheet

import (
	"math"
	"strconv"
	"strings"
)

// Row is one data row of a sheet. Raw keeps the text as read so natural keys
// are never reformatted; Values holds the typed cell values.
type Row struct {
	Line   int
	Raw    []string
	Values []any
}

// Table is the working copy of one sheet. It is filtered during extraction and
// updated with catalogue identifiers during submission.
type Table struct {
	Name   string
	Header []string
	Rows   []Row
}

// newTable builds a table from excelize rows, using rows[offset] as header.
func newTable(name string, rows [][]string, offset int) *Table {
	t := &Table{Name: name}
	if offset >= len(rows) {
		return t
	}
	for _, h := range rows[offset] {
		t.Header = append(t.Header, strings.TrimSpace(h))
	}
	for i := offset + 1; i < len(rows); i++ {
		raw := make([]string, len(t.Header))
		values := make([]any, len(t.Header))
		for c := range t.Header {
			if c < len(rows[i]) {
				raw[c] = strings.TrimSpace(rows[i][c])
				values[c] = parseValue(raw[c])
			}
		}
		t.Rows = append(t.Rows, Row{Line: i + 1, Raw: raw, Values: values})
	}
	return t
}

// parseValue returns int64 for integers, float64 for decimals, nil for empty
// or non-finite input, or the trimmed string.
func parseValue(s string) any {
	if s == "" {
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	}
	return s
}

// Column returns the index of the named header or -1.
func (t *Table) Column(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// HasColumn reports whether the header contains name.
func (t *Table) HasColumn(name string) bool { return t.Column(name) >= 0 }

// Value returns the typed value of a cell, nil when the column is absent.
func (t *Table) Value(r Row, column string) any {
	idx := t.Column(column)
	if idx < 0 || idx >= len(r.Values) {
		return nil
	}
	return r.Values[idx]
}

// Text returns the raw text of a cell, "" when the column is absent. Values
// that parse as non-finite numbers read as empty.
func (t *Table) Text(r Row, column string) string {
	idx := t.Column(column)
	if idx < 0 || idx >= len(r.Raw) {
		return ""
	}
	if r.Values[idx] == nil {
		return ""
	}
	return r.Raw[idx]
}

// filter keeps the rows for which keep returns true.
func (t *Table) filter(keep func(Row) bool) {
	kept := t.Rows[:0]
	for _, r := range t.Rows {
		if keep(r) {
			kept = append(kept, r)
		}
	}
	t.Rows = kept
}

// SetValue writes value into column for every row whose keyColumn text equals
// key, appending the column when it does not exist. It returns the number of
// rows updated.
func (t *Table) SetValue(keyColumn, key, column string, value any) int {
	keyIdx := t.Column(keyColumn)
	if keyIdx < 0 {
		return 0
	}
	idx := t.Column(column)
	if idx < 0 {
		t.Header = append(t.Header, column)
		idx = len(t.Header) - 1
	}
	updated := 0
	for i := range t.Rows {
		row := &t.Rows[i]
		if keyIdx >= len(row.Raw) || row.Raw[keyIdx] != key {
			continue
		}
		for len(row.Raw) <= idx {
			row.Raw = append(row.Raw, "")
			row.Values = append(row.Values, nil)
		}
		row.Values[idx] = value
		row.Raw[idx] = formatValue(value)
		updated++
	}
	return updated
}

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.Rows) }

func formatValue(v any) string {
	switch val := v.(type) {
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case string:
		return val
	default:
		return ""
	}
}
