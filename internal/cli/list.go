package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"morphicutil/internal/core"
	"morphicutil/internal/transfer"
)

type objectView struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
	MD5  string `json:"md5,omitempty"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <dataset>",
		Short: "List the files in a dataset's upload area",
		Args:  cobra.ExactArgs(1),
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
			objects, err := store.List(cmd.Context(), core.DatasetPrefix(strings.TrimSpace(args[0])))
			if err != nil {
				return WrapExitError(ExitFailure, "list upload area", err)
			}
			views := make([]objectView, 0, len(objects))
			var total int64
			for _, obj := range objects {
				md := obj.Metadata
				if md == nil {
					// S3 listings carry no user metadata.
					if info, err := store.Head(cmd.Context(), obj.Key); err == nil {
						md = info.Metadata
					}
				}
				views = append(views, objectView{Key: obj.Key, Size: obj.Size, MD5: md[transfer.MD5MetadataKey]})
				total += obj.Size
			}
			return e.out.Success(views, func(w io.Writer) {
				for _, v := range views {
					md5 := v.MD5
					if md5 == "" {
						md5 = "-"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", v.Key, humanize.Bytes(uint64(v.Size)), md5)
				}
				fmt.Fprintln(w, itemCount(len(views), total))
			})
		},
	}
}

func itemCount(n int, bytes int64) string {
	switch n {
	case 0:
		return "No items"
	case 1:
		return "1 item, " + humanize.Bytes(uint64(bytes))
	default:
		return fmt.Sprintf("%d items, %s", n, humanize.Bytes(uint64(bytes)))
	}
}
