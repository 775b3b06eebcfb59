// Package audit saves the working tables of a committed run, with the
// catalogue identifiers written back, as a timestamped workbook.
package audit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"morphicutil/internal/blob"
	"morphicutil/internal/core"
	"morphicutil/internal/spreadsheet"
	"morphicutil/pkg/domain"
)

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	timestampLayout = "20060102T150405Z"
	summarySheet    = "Submission"
	defaultPrefix   = "submission"
)

// Reconciler errors.
var (
	// ErrArtifactMissing reports a workbook that was written but cannot be found.
	ErrArtifactMissing = errors.New("audit workbook missing after save")
	// ErrNoTables is returned when the sink does not expose working tables.
	ErrNoTables = errors.New("identifier sink has no working tables")
)

// TableSource exposes the working tables to save. *spreadsheet.Workbook
// implements it.
type TableSource interface {
	Tables() []*spreadsheet.Table
}

// Options configures a Reconciler.
type Options struct {
	// Dir receives the workbook. Defaults to the working directory.
	Dir string
	// Prefix starts the file name. Defaults to the source workbook's base name.
	Prefix string
	// Archive, when set, receives a copy under "<dataset>/audit/".
	Archive blob.Store
	Clock   core.Clock
	Logger  core.Logger
}

// Reconciler implements core.Reconciler.
type Reconciler struct {
	dir     string
	prefix  string
	archive blob.Store
	clock   core.Clock
	logger  core.Logger
}

var _ core.Reconciler = (*Reconciler)(nil)

// New constructs a Reconciler.
func New(opts Options) *Reconciler {
	r := &Reconciler{dir: opts.Dir, prefix: opts.Prefix, archive: opts.Archive, clock: opts.Clock, logger: opts.Logger}
	if r.dir == "" {
		r.dir = "."
	}
	if r.clock == nil {
		r.clock = core.ClockFunc(func() time.Time { return time.Now().UTC() })
	}
	return r
}

// FileName returns the artifact name for run.
func (r *Reconciler) FileName(run domain.RunRecord) string {
	prefix := r.prefix
	if prefix == "" && run.Source != "" {
		base := filepath.Base(run.Source)
		prefix = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	return fmt.Sprintf("%s_%s_%s.xlsx", prefix, r.clock.Now().UTC().Format(timestampLayout), run.ID)
}

// Reconcile writes one sheet per working table plus a summary of the
// resources the run touched, and returns the workbook path.
func (r *Reconciler) Reconcile(ctx context.Context, run domain.RunRecord, tables core.IdentifierSink) (string, error) {
	src, ok := tables.(TableSource)
	if !ok {
		return "", ErrNoTables
	}
	if err := os.MkdirAll(r.dir, 0o750); err != nil {
		return "", fmt.Errorf("create audit dir: %w", err)
	}
	path := filepath.Join(r.dir, r.FileName(run))
	if err := writeWorkbook(path, run, src.Tables()); err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %s", ErrArtifactMissing, path)
	}
	if r.logger != nil {
		r.logger.Info("audit workbook saved", "run", run.ID, "path", path)
	}
	if r.archive != nil {
		if err := r.upload(ctx, run.DatasetID, path); err != nil {
			return path, err
		}
	}
	return path, nil
}

// ArchiveKey is the blob key an artifact is archived under.
func ArchiveKey(datasetID, path string) string {
	return core.DatasetPrefix(datasetID) + "audit/" + filepath.Base(path)
}

func (r *Reconciler) upload(ctx context.Context, datasetID, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open audit workbook: %w", err)
	}
	defer func() { _ = f.Close() }()
	key := ArchiveKey(datasetID, path)
	if _, err := r.archive.Put(ctx, key, f, blob.PutOptions{ContentType: xlsxContentType, Overwrite: true}); err != nil {
		return fmt.Errorf("archive audit workbook: %w", err)
	}
	if r.logger != nil {
		r.logger.Info("audit workbook archived", "key", key, "driver", r.archive.Driver())
	}
	return nil
}

func writeWorkbook(path string, run domain.RunRecord, tables []*spreadsheet.Table) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return err
	}
	if err := writeSummary(f, run); err != nil {
		return err
	}
	for _, t := range tables {
		if _, err := f.NewSheet(t.Name); err != nil {
			return fmt.Errorf("sheet %s: %w", t.Name, err)
		}
		if err := writeTable(f, t); err != nil {
			return fmt.Errorf("sheet %s: %w", t.Name, err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save audit workbook: %w", err)
	}
	return nil
}

func writeTable(f *excelize.File, t *spreadsheet.Table) error {
	header := make([]any, len(t.Header))
	for i, h := range t.Header {
		header[i] = h
	}
	if err := setRow(f, t.Name, 1, header); err != nil {
		return err
	}
	for i, row := range t.Rows {
		cells := make([]any, len(t.Header))
		for c := range cells {
			if c < len(row.Values) && row.Values[c] != nil {
				cells[c] = row.Values[c]
			}
		}
		if err := setRow(f, t.Name, i+2, cells); err != nil {
			return err
		}
	}
	return nil
}

func writeSummary(f *excelize.File, run domain.RunRecord) error {
	rows := [][]any{
		{"run", run.ID},
		{"action", string(run.Action)},
		{"dataset", run.DatasetID},
		{"envelope", run.EnvelopeID},
		{"source", run.Source},
		{"started", run.StartedAt.UTC().Format(time.RFC3339)},
		{},
		{"entity", "key", "remote_id", "operation", "at"},
	}
	for _, res := range run.Resources {
		rows = append(rows, []any{string(res.Entity), res.Key, res.RemoteID, res.Operation, res.At.UTC().Format(time.RFC3339)})
	}
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		if err := setRow(f, summarySheet, i+1, row); err != nil {
			return err
		}
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}
