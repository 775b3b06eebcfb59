package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"morphicutil/internal/core"
	"morphicutil/internal/transfer"
)

type transferView struct {
	Moved  []string          `json:"moved"`
	Failed map[string]string `json:"failed,omitempty"`
	Bytes  int64             `json:"bytes"`
}

func newTransferView(r transfer.Report) transferView {
	v := transferView{Moved: r.Moved, Bytes: r.Bytes}
	if len(r.Failed) > 0 {
		v.Failed = make(map[string]string, len(r.Failed))
		for _, f := range r.Failed {
			v.Failed[f.Key] = f.Err.Error()
		}
	}
	return v
}

// reportTransfer prints a transfer report and fails when any object failed.
func reportTransfer(out *OutputFormatter, r transfer.Report, runErr error) error {
	render := func(w io.Writer) {
		for _, f := range r.Failed {
			fmt.Fprintf(w, "  %s: %v\n", f.Key, f.Err)
		}
		fmt.Fprintln(w, r.String())
	}
	if runErr != nil || !r.OK() {
		message := r.String()
		if runErr != nil {
			message = runErr.Error()
		}
		_ = out.Failure(ExitFailure, message, newTransferView(r), render)
		if runErr != nil {
			return WrapExitError(ExitFailure, "transfer interrupted", runErr)
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d objects failed", len(r.Failed)))
	}
	return out.Success(newTransferView(r), render)
}

// NewUploadCommand creates the upload command.
func NewUploadCommand(rootOpts *RootOptions) *cobra.Command {
	var overwrite bool
	var workers int

	cmd := &cobra.Command{
		Use:   "upload <dataset> <file>...",
		Short: "Upload local files into a dataset's upload area",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			store, err := e.blobStore(cmd.Context())
			if err != nil {
				return err
			}
			if workers == 0 {
				workers = e.cfg.Submission.Workers
			}
			prefix := core.DatasetPrefix(strings.TrimSpace(args[0]))
			e.out.VerboseLog("uploading %d files to %s", len(args)-1, prefix)
			report, err := transfer.NewUploader(store, workers, overwrite).Upload(cmd.Context(), prefix, args[1:])
			e.logger.Info("upload finished", "dataset", args[0], "moved", len(report.Moved), "failed", len(report.Failed))
			return reportTransfer(e.out, report, err)
		},
	}

	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace files already in the upload area")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel uploads (default one per CPU)")
	return cmd
}
