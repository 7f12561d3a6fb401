package cli

import (
	"fmt"

	"github.com/fmueller/voxserve/internal/version"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "voxserve v%s\n", version.Resolve())
			if rev := version.Revision(); rev != "unknown" {
				fmt.Fprintf(cmd.OutOrStdout(), "commit %s\n", rev)
			}
			return nil
		},
	}
}
