package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"morphicutil/internal/core"
)

// NewLinkStudyCommand creates the link-study command.
func NewLinkStudyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "link-study <study> <dataset>",
		Short: "Attach a registered dataset to its study",
		Long: `Links the dataset to the study. Submissions need a dataset that is already
linked, otherwise the submitted metadata is not reachable from the study.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			client, err := e.catalogue(cmd.Context())
			if err != nil {
				return err
			}
			svc := core.NewService(client, core.WithLogger(e.logger))
			study, dataset := args[0], args[1]
			if err := svc.LinkDatasetToStudy(cmd.Context(), study, dataset); err != nil {
				if errors.Is(err, core.ErrMissingStudy) || errors.Is(err, core.ErrMissingDataset) {
					return WrapExitError(ExitCommandError, "link dataset", err)
				}
				return remoteExit("link dataset", err)
			}
			return e.out.Success(map[string]string{"study": study, "dataset": dataset}, func(w io.Writer) {
				fmt.Fprintf(w, "Dataset %s linked to study %s\n", dataset, study)
			})
		},
	}
}
