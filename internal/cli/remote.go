package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fmueller/voxpush/internal/clipboard"
)

func newToggleCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle",
		Short: "Start or stop dictation in the running service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp struct {
				State string `json:"state"`
			}
			err := app.client().post(cmd.Context(), "/toggle", &resp)
			var apiErr *apiError
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
				return fmt.Errorf("still finishing the previous dictation; try again shortly")
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.State)
			return nil
		},
	}
}

func newStatusCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the running service's model, recorder and indicator state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var status, cfg map[string]any
			if err := app.client().get(cmd.Context(), "/status", &status); err != nil {
				return err
			}
			if err := app.client().get(cmd.Context(), "/get_config", &cfg); err != nil {
				return err
			}
			status["config"] = cfg

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(status)
		},
	}
}

func newTranscribeCmd(app *appState) *cobra.Command {
	var copyToClipboard bool

	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Transcribe an audio file with the running service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Text  string `json:"text"`
				Saved string `json:"saved"`
			}
			stop := startSpinner(app.progressEnabled(), "Transcribing")
			err := app.client().upload(cmd.Context(), args[0], &resp)
			stop()
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), resp.Text)
			blank := strings.TrimSpace(resp.Text) == ""
			if blank {
				app.log().Warn(noSpeechHint())
			}
			if !copyToClipboard || (blank && !app.settings.Delivery.CopyEmpty) {
				return nil
			}
			if err := app.copyText(cmd.Context(), resp.Text); err != nil {
				return err
			}
			app.log().Info("transcript copied to clipboard")
			return nil
		},
	}

	cmd.Flags().BoolVar(&copyToClipboard, "copy", false, "Copy transcript to clipboard")
	cmd.Flags().Bool("copy-empty", false, "Copy blank transcripts to clipboard")
	return cmd
}

func (a *appState) copyText(ctx context.Context, text string) error {
	if a.copyFn != nil {
		return a.copyFn(ctx, text)
	}
	return clipboard.CopyText(ctx, text)
}
