package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"morphicutil/internal/transfer"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "sync <source-area> <destination-area>",
		Short: "Copy every object of one upload area into another",
		Long: `Copies each object below the source area to the same relative key below the
destination area. Sources are kept. A failed object is reported and does not
stop the others.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, dst := areaPrefix(args[0]), areaPrefix(args[1])
			if strings.HasPrefix(dst, src) || strings.HasPrefix(src, dst) {
				return NewExitError(ExitCommandError, "source and destination areas must not overlap")
			}
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
			report, err := transfer.NewMover(store, workers).Move(cmd.Context(), src, dst)
			e.logger.Info("sync finished", "source", src, "destination", dst, "moved", len(report.Moved), "failed", len(report.Failed))
			return reportTransfer(e.out, report, err)
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "parallel copies (default one per CPU)")
	return cmd
}

// areaPrefix normalises an area name to a key prefix. The store root is "".
func areaPrefix(area string) string {
	area = strings.Trim(strings.TrimSpace(area), "/")
	if area == "" {
		return ""
	}
	return area + "/"
}
