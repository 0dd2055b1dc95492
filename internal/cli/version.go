package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fmueller/voxpush/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		// no settings needed
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "voxpush v%s\n", version.Resolve())
			return nil
		},
	}
}
