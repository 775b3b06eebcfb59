package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"morphicutil/internal/audit"
	"morphicutil/internal/blob"
	"morphicutil/internal/catalogue"
	"morphicutil/internal/core"
	"morphicutil/internal/entitymodel"
	"morphicutil/internal/spreadsheet"
	"morphicutil/pkg/domain"
)

// SubmitOptions holds flags for the submit-file command.
type SubmitOptions struct {
	*RootOptions
	Action          string
	Dataset         string
	Orphans         string
	DryRun          bool
	SkipUploadCheck bool
	AuditDir        string
	Archive         bool
	MetricsFile     string
	TraceFile       string
	AuditLog        string
}

// NewSubmitCommand creates the submit-file command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit-file [workbook]",
		Short: "Submit a metadata workbook to a dataset",
		Long: `Reads the workbook, links parent cell line, cell lines, products, library
preparations and sequencing files, validates the result and applies it to the
catalogue. ADD creates a submission envelope and rolls it back on failure;
MODIFY patches resources by their Id column; DELETE removes everything linked
to the dataset and needs no workbook.

A copy of the workbook with the assigned identifiers is saved after a
successful ADD or MODIFY.`,
		Example: `  morphic-util submit-file metadata.xlsx --dataset 6634b1...
  morphic-util submit-file changes.xlsx --action MODIFY --dataset 6634b1...
  morphic-util submit-file --action DELETE --dataset 6634b1...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			return runSubmit(cmd, opts, path)
		},
	}

	cmd.Flags().StringVar(&opts.Action, "action", string(domain.ActionAdd), "ADD, MODIFY or DELETE")
	cmd.Flags().StringVar(&opts.Dataset, "dataset", "", "target dataset id (required)")
	cmd.Flags().StringVar(&opts.Orphans, "orphans", "", "unlinked rows: advisory or strict (default from config)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "validate only; make no remote calls")
	cmd.Flags().BoolVar(&opts.SkipUploadCheck, "skip-upload-check", false, "do not check sequencing files against the upload area")
	cmd.Flags().StringVar(&opts.AuditDir, "audit-dir", "", "directory for the result workbook (default from config)")
	cmd.Flags().BoolVar(&opts.Archive, "archive", false, "also store the result workbook in the dataset upload area")
	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")
	cmd.Flags().StringVar(&opts.TraceFile, "trace-file", "", "write one JSON span per remote call to this file")
	cmd.Flags().StringVar(&opts.AuditLog, "audit-log", "", "write one JSON audit line per remote call to this file")
	_ = cmd.MarkFlagRequired("dataset")

	return cmd
}

func runSubmit(cmd *cobra.Command, opts *SubmitOptions, path string) error {
	action, err := domain.ParseAction(opts.Action)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --action", err)
	}
	if action != domain.ActionDelete && path == "" {
		return NewExitError(ExitCommandError, fmt.Sprintf("%s requires a workbook", action))
	}

	e, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()
	ctx := cmd.Context()

	req := core.Request{Action: action, DatasetID: opts.Dataset}
	if path != "" && action != domain.ActionDelete {
		wb, extracted, err := spreadsheet.Read(path, action)
		if err != nil {
			return WrapExitError(ExitCommandError, "read workbook", err)
		}
		req.Submission = &wb.Submission
		req.Tables = wb
		req.Source = path
		req.Extracted = extracted
		e.logger.Debug("workbook read", "path", path, "findings", len(extracted.Violations))
	}

	svc, flush, err := newSubmitService(ctx, e, opts, action)
	if err != nil {
		return err
	}

	if opts.DryRun {
		res, err := svc.Validate(ctx, req)
		if err != nil {
			return WrapExitError(ExitCommandError, "validate", err)
		}
		return reportValidation(e.out, res)
	}

	outcome, err := svc.Submit(ctx, req)
	if ferr := flush(); ferr != nil {
		e.logger.Warn("metrics not written", "error", ferr)
	}
	if err != nil {
		return submitFailure(e.out, outcome, err)
	}
	return e.out.Success(newOutcomeView(outcome), func(w io.Writer) { renderOutcome(w, outcome) })
}

// newSubmitService wires the service for one run. flush reports the call
// statistics and writes the metrics textfile once the run is over.
func newSubmitService(ctx context.Context, e *env, opts *SubmitOptions, action domain.Action) (*core.Service, func() error, error) {
	flush := func() error { return nil }

	orphans := opts.Orphans
	if orphans == "" {
		orphans = e.cfg.Submission.Orphans
	}
	policy, err := core.ParseOrphanPolicy(orphans)
	if err != nil {
		return nil, flush, WrapExitError(ExitCommandError, "invalid --orphans", err)
	}
	engine := core.NewDefaultRulesEngine(policy)
	validator, err := entitymodel.Default()
	if err != nil {
		return nil, flush, WrapExitError(ExitFailure, "load entity schemas", err)
	}
	engine.Register(core.PayloadSchemaRule(validator))

	var store blob.Store
	needStore := (action == domain.ActionAdd && e.cfg.Submission.CheckUploadArea && !opts.SkipUploadCheck) ||
		opts.Archive || e.cfg.Audit.Archive
	if needStore {
		if store, err = e.blobStore(ctx); err != nil {
			return nil, flush, err
		}
	}
	if action == domain.ActionAdd && e.cfg.Submission.CheckUploadArea && !opts.SkipUploadCheck {
		engine.Register(core.UploadAreaRule(store))
	}

	serviceOpts := []core.ServiceOption{
		core.WithLogger(e.logger),
		core.WithRulesEngine(engine),
		core.WithRollbackTimeout(e.cfg.Submission.RollbackTimeout.Duration),
	}

	if !opts.DryRun {
		client, err := e.catalogue(ctx)
		if err != nil {
			return nil, flush, err
		}
		journal, err := e.journal(ctx)
		if err != nil {
			return nil, flush, err
		}
		serviceOpts = append(serviceOpts, core.WithJournal(journal))

		dir := opts.AuditDir
		if dir == "" {
			dir = e.cfg.Audit.Dir
		}
		reconcilerOpts := audit.Options{Dir: dir, Logger: e.logger}
		if opts.Archive || e.cfg.Audit.Archive {
			reconcilerOpts.Archive = store
		}
		serviceOpts = append(serviceOpts, core.WithReconciler(audit.New(reconcilerOpts)))

		stats := core.NewExpvarMetricsRecorder("")
		metrics := core.MultiMetrics{stats}
		var prom *core.PrometheusMetricsRecorder
		if opts.MetricsFile != "" {
			prom = core.NewPrometheusMetricsRecorder()
			metrics = append(metrics, prom)
		}
		flush = func() error {
			e.logger.Debug("remote call stats", "operations", stats.Snapshot())
			if prom == nil {
				return nil
			}
			return prom.WriteTextfile(opts.MetricsFile)
		}
		serviceOpts = append(serviceOpts, core.WithMetricsRecorder(metrics))

		if opts.TraceFile != "" {
			f, err := createFile(opts.TraceFile)
			if err != nil {
				return nil, flush, WrapExitError(ExitCommandError, "open trace file", err)
			}
			e.track(f)
			serviceOpts = append(serviceOpts, core.WithTracer(core.NewJSONTracer(f)))
		}
		if opts.AuditLog != "" {
			f, err := createFile(opts.AuditLog)
			if err != nil {
				return nil, flush, WrapExitError(ExitCommandError, "open audit log", err)
			}
			e.track(f)
			serviceOpts = append(serviceOpts, core.WithAuditRecorder(core.NewJSONAuditRecorder(f)))
		}
		return core.NewService(client, serviceOpts...), flush, nil
	}
	return core.NewService(nil, serviceOpts...), flush, nil
}

func createFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
}

// submitFailure prints what is known about a failed run and picks the exit
// code.
func submitFailure(out *OutputFormatter, outcome core.Outcome, err error) error {
	var verr domain.ValidationError
	switch {
	case errors.As(err, &verr):
		_ = out.Failure(ExitValidation, "workbook failed validation", violationViews(verr.Result), func(w io.Writer) {
			renderViolations(w, verr.Result)
		})
		return WrapExitError(ExitValidation, "validation failed", err)
	case errors.Is(err, core.ErrMissingDataset):
		return WrapExitError(ExitCommandError, "missing dataset", err)
	case errors.Is(err, catalogue.ErrUnauthorized):
		_ = out.Failure(ExitUnauthorized, "catalogue rejected credentials: refresh credentials with the config command", newOutcomeView(outcome), func(w io.Writer) {
			renderRollback(w, outcome)
		})
		return WrapExitError(ExitUnauthorized, "refresh credentials", err)
	default:
		_ = out.Failure(ExitFailure, err.Error(), newOutcomeView(outcome), func(w io.Writer) {
			renderRollback(w, outcome)
		})
		return WrapExitError(ExitFailure, "submission failed", err)
	}
}

func reportValidation(out *OutputFormatter, res domain.Result) error {
	if res.HasBlocking() {
		_ = out.Failure(ExitValidation, "workbook failed validation", violationViews(res), func(w io.Writer) {
			renderViolations(w, res)
		})
		return NewExitError(ExitValidation, "validation failed")
	}
	return out.Success(violationViews(res), func(w io.Writer) {
		renderViolations(w, res)
		fmt.Fprintln(w, "Workbook is valid")
	})
}

type violationView struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	Entity   string `json:"entity,omitempty"`
	ID       string `json:"id,omitempty"`
	Message  string `json:"message"`
}

func violationViews(res domain.Result) []violationView {
	out := make([]violationView, 0, len(res.Violations))
	for _, v := range res.Violations {
		out = append(out, violationView{
			Rule:     v.Rule,
			Severity: string(v.Severity),
			Entity:   string(v.Entity),
			ID:       v.EntityID,
			Message:  v.Message,
		})
	}
	return out
}

func renderViolations(w io.Writer, res domain.Result) {
	for _, v := range res.Violations {
		fmt.Fprintf(w, "  [%s] %s\n", v.Severity, v.Message)
	}
}

type resourceView struct {
	Entity   string `json:"entity"`
	Key      string `json:"key"`
	RemoteID string `json:"remote_id"`
}

type outcomeView struct {
	RunID      string          `json:"run_id,omitempty"`
	Action     string          `json:"action"`
	DatasetID  string          `json:"dataset_id"`
	EnvelopeID string          `json:"envelope_id,omitempty"`
	Created    []resourceView  `json:"created,omitempty"`
	Modified   []resourceView  `json:"modified,omitempty"`
	Warnings   []violationView `json:"warnings,omitempty"`
	Deleted    []string        `json:"deleted,omitempty"`
	Rollback   []string        `json:"rollback,omitempty"`
	Artifact   string          `json:"artifact,omitempty"`
	AuditError string          `json:"audit_error,omitempty"`
}

func resourceViews(records []domain.ResourceRecord) []resourceView {
	out := make([]resourceView, 0, len(records))
	for _, r := range records {
		out = append(out, resourceView{Entity: string(r.Entity), Key: r.Key, RemoteID: r.RemoteID})
	}
	return out
}

func newOutcomeView(o core.Outcome) outcomeView {
	v := outcomeView{
		RunID:      o.RunID,
		Action:     string(o.Action),
		DatasetID:  o.DatasetID,
		EnvelopeID: o.EnvelopeID,
		Created:    resourceViews(o.Created),
		Modified:   resourceViews(o.Modified),
		Artifact:   o.Artifact,
	}
	if len(o.Violations.Violations) > 0 {
		v.Warnings = violationViews(o.Violations)
	}
	if o.Deleted != nil {
		for _, ref := range o.Deleted.Deleted {
			v.Deleted = append(v.Deleted, ref.Collection+"/"+ref.ID)
		}
	}
	if o.Rollback != nil {
		for _, step := range o.Rollback.Steps {
			status := "ok"
			if step.Err != nil {
				status = step.Err.Error()
			}
			v.Rollback = append(v.Rollback, fmt.Sprintf("%s %s: %s", step.Name, step.Target, status))
		}
	}
	if o.AuditErr != nil {
		v.AuditError = o.AuditErr.Error()
	}
	return v
}

func renderOutcome(w io.Writer, o core.Outcome) {
	fmt.Fprintf(w, "%s on dataset %s succeeded (run %s)\n", o.Action, o.DatasetID, o.RunID)
	if o.EnvelopeID != "" {
		fmt.Fprintf(w, "Submission envelope: %s\n", o.EnvelopeID)
	}
	switch {
	case o.Action == domain.ActionAdd:
		fmt.Fprintf(w, "Created %d resources\n", len(o.Created))
	case o.Action == domain.ActionModify:
		fmt.Fprintf(w, "Modified %d resources\n", len(o.Modified))
	case o.Deleted != nil:
		fmt.Fprintf(w, "Deleted %d resources and the dataset\n", len(o.Deleted.Deleted))
	}
	if len(o.Violations.Violations) > 0 {
		fmt.Fprintln(w, "Warnings:")
		renderViolations(w, o.Violations)
	}
	if o.Artifact != "" {
		fmt.Fprintf(w, "Result workbook: %s\n", o.Artifact)
	}
	if o.AuditErr != nil {
		fmt.Fprintf(w, "Result workbook not saved: %v\n", o.AuditErr)
	}
}

func renderRollback(w io.Writer, o core.Outcome) {
	if o.Rollback != nil {
		fmt.Fprintln(w, o.Rollback.String())
		if !o.Rollback.Complete() {
			fmt.Fprintln(w, "Rollback was incomplete; remove the remaining resources manually.")
		}
	}
	if o.Deleted != nil && len(o.Deleted.Failed) > 0 {
		if o.Deleted.DatasetDeleted {
			fmt.Fprintf(w, "%d resources could not be deleted; the dataset was deleted.\n", len(o.Deleted.Failed))
		} else {
			fmt.Fprintf(w, "%d resources could not be deleted, including the dataset.\n", len(o.Deleted.Failed))
		}
	}
}
