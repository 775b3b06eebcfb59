package cli

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"morphicutil/internal/entitymodel"
	"morphicutil/pkg/domain"
)

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema <entity>",
		Short: "Print the JSON schema a record's content is checked against",
		Example: `  morphic-util schema cell_line
  morphic-util schema sequence_file`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := entitymodel.Schema(domain.EntityType(args[0]))
			if err != nil {
				return WrapExitError(ExitCommandError, "schema", err)
			}
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr()}
			return out.Success(json.RawMessage(raw), func(w io.Writer) {
				_, _ = w.Write(raw)
			})
		},
	}
}
