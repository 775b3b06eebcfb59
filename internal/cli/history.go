package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"morphicutil/pkg/domain"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	var runID string
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List journaled submission runs",
		Long: `Lists the runs recorded in the run journal, newest last. With --run, shows
one run and every resource it created or modified.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			journal, err := e.journal(cmd.Context())
			if err != nil {
				return err
			}
			if runID != "" {
				run, ok, err := journal.GetRun(cmd.Context(), runID)
				if err != nil {
					return WrapExitError(ExitFailure, "read run", err)
				}
				if !ok {
					return WrapExitError(ExitCommandError, runID, domain.ErrRunNotFound)
				}
				return e.out.Success(run, func(w io.Writer) { renderRun(w, run, true) })
			}
			runs, err := journal.ListRuns(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "list runs", err)
			}
			if limit > 0 && len(runs) > limit {
				runs = runs[len(runs)-limit:]
			}
			return e.out.Success(runs, func(w io.Writer) {
				if len(runs) == 0 {
					fmt.Fprintln(w, "No runs recorded")
				}
				for _, run := range runs {
					renderRun(w, run, false)
				}
			})
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "show a single run with its resources")
	cmd.Flags().IntVar(&limit, "limit", 0, "show only the most recent runs")
	return cmd
}

func renderRun(w io.Writer, run domain.RunRecord, detail bool) {
	finished := "-"
	if run.FinishedAt != nil {
		finished = stamp(*run.FinishedAt)
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", run.ID, run.Action, run.DatasetID, run.Status, stamp(run.StartedAt), finished)
	if !detail {
		return
	}
	if run.EnvelopeID != "" {
		fmt.Fprintf(w, "  envelope %s\n", run.EnvelopeID)
	}
	if run.Source != "" {
		fmt.Fprintf(w, "  source %s\n", run.Source)
	}
	if run.Message != "" {
		fmt.Fprintf(w, "  message %s\n", run.Message)
	}
	for _, r := range run.Resources {
		fmt.Fprintf(w, "  %s %s %s -> %s\n", r.Operation, r.Entity, r.Key, r.RemoteID)
	}
}

// stamp formats times in command output.
func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
