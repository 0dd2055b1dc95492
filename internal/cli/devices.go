package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/fmueller/voxpush/internal/record"
)

func newDevicesCmd(_ *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List recording devices and backend diagnostics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			backends := record.Backends(runtime.GOOS)
			if len(backends) == 0 {
				return fmt.Errorf("unsupported OS: %s", runtime.GOOS)
			}

			for _, backend := range backends {
				fmt.Fprintf(out, "== %s ==\n", backend.Name())
				if !backend.Available() {
					fmt.Fprintln(out, "not available")
					fmt.Fprintln(out)
					continue
				}

				listing, err := backend.ListDevices(cmd.Context())
				switch {
				case err != nil:
					fmt.Fprintf(out, "failed to list devices: %v\n", err)
				case listing == "":
					fmt.Fprintln(out, "no output")
				default:
					fmt.Fprintln(out, listing)
				}
				fmt.Fprintln(out)
			}

			return nil
		},
	}
}
