package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// NewViewCommand creates the view command.
func NewViewCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "view <dataset>",
		Short: "Show the biomaterials, processes and files linked to a dataset",
		Args:  cobra.ExactArgs(1),
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
			ds, err := client.GetDataset(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return remoteExit("fetch dataset", err)
			}
			return e.out.Success(ds, func(w io.Writer) {
				fmt.Fprintf(w, "Dataset %s\n", ds.ID)
				section(w, "Biomaterials", ds.Biomaterials)
				section(w, "Processes", ds.Processes)
				section(w, "Files", ds.Files)
			})
		},
	}
}

func section(w io.Writer, title string, ids []string) {
	fmt.Fprintf(w, "%s (%d)\n", title, len(ids))
	for _, id := range ids {
		fmt.Fprintf(w, "  %s\n", id)
	}
}
