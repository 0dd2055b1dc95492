package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fmueller/voxpush/internal/history"
	"github.com/fmueller/voxpush/internal/mcpserver"
	"github.com/fmueller/voxpush/internal/version"
)

func (a *appState) openHistory() (*history.Store, error) {
	path := a.settings.History.Path
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("no transcript history at %s yet", path)
	}
	return history.OpenReadOnly(path)
}

func newHistoryCmd(app *appState) *cobra.Command {
	var (
		limit   int
		output  string
		showAll bool
	)

	cmd := &cobra.Command{
		Use:   "history [query]",
		Short: "List or search past transcripts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			query := ""
			if len(args) == 1 {
				query = args[0]
			}
			entries, err := store.Search(cmd.Context(), query, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch output {
			case "table":
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			default:
				return fmt.Errorf("unknown output %q (table|json)", output)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "no transcripts")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, e := range entries {
				text := strings.Join(strings.Fields(e.Text), " ")
				if !showAll && len([]rune(text)) > 72 {
					text = string([]rune(text)[:71]) + "…"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.CreatedAt.Local().Format("2006-01-02 15:04"), e.ID, text)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of transcripts")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output: table|json")
	cmd.Flags().BoolVar(&showAll, "full", false, "Do not truncate transcript text")
	return cmd
}

func newMCPCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve transcript history to MCP clients over stdio",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			store, err := app.openHistory()
			if err != nil {
				return err
			}
			defer store.Close()
			return mcpserver.New(store, app.log()).ServeStdio(version.Resolve())
		},
	}
}
