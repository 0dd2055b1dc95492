package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fmueller/voxpush/internal/download"
	"github.com/fmueller/voxpush/internal/format"
	"github.com/fmueller/voxpush/internal/whisper"
)

func newSetupCmd(app *appState) *cobra.Command {
	var skipFormats bool

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Download and verify speech models and write example format profiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			dir := app.settings.Model.Dir
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create model directory %s: %w", dir, err)
			}

			m, err := whisper.ResolveModel(app.settings.Model.Name, dir)
			if err != nil {
				return err
			}
			if m.IsCustomPath {
				return fmt.Errorf("setup expects a named model; got custom path %s", m.Path)
			}

			fetched, err := app.installModel(cmd.Context(), m)
			if err != nil {
				return err
			}
			if fetched {
				fmt.Fprintf(out, "Model %s installed at %s\n", m.Name, m.Path)
			} else {
				fmt.Fprintf(out, "Model %s already present at %s\n", m.Name, m.Path)
			}

			if profiles := app.settings.Format.ConfigPath; !skipFormats && profiles != "" {
				written, err := format.WriteExample(profiles)
				if err != nil {
					return fmt.Errorf("write example format profiles: %w", err)
				}
				if written {
					fmt.Fprintf(out, "Example format profiles written to %s\n", profiles)
				}
			}

			fmt.Fprintf(out, "Installed models: %s\n", strings.Join(whisper.NewCatalog(dir).Names(), ", "))
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipFormats, "skip-formats", false, "Do not write example format profiles")
	return cmd
}

// installModel makes sure m is on disk with the expected checksum. A present
// file that fails verification is replaced. It reports whether it downloaded.
func (a *appState) installModel(ctx context.Context, m whisper.ResolvedModel) (bool, error) {
	checksum, err := a.modelChecksum(ctx, m)
	if err != nil {
		return false, err
	}

	if !m.NeedsDownload {
		if checksum == "" {
			return false, nil
		}
		stop := startSpinner(a.progressEnabled(), "Verifying "+m.Name)
		err := download.VerifyFileChecksum(m.Path, checksum)
		stop()
		if err == nil {
			return false, nil
		}
		a.log().Warn("model checksum verification failed; downloading fresh copy", zap.String("model", m.Name), zap.Error(err))
	}

	a.log().Info("downloading model", zap.String("model", m.Name), zap.String("path", m.Path))
	err = download.Fetch(ctx, download.Options{
		URL:            m.URL,
		Destination:    m.Path,
		ExpectedSHA256: checksum,
		NoProgress:     a.noProgress,
		Description:    m.Name,
		Logger:         a.log(),
	})
	if err != nil {
		return false, fmt.Errorf("download model %s: %w", m.Name, err)
	}
	return true, nil
}

// modelChecksum returns the pinned checksum or, for models published without
// one, the oid from the Git LFS pointer.
func (a *appState) modelChecksum(ctx context.Context, m whisper.ResolvedModel) (string, error) {
	if m.SHA256 != "" || m.SHA256URL == "" {
		return m.SHA256, nil
	}
	stop := startSpinner(a.progressEnabled(), "Resolving checksum")
	defer stop()
	sum, err := download.ResolveExpectedChecksum(ctx, m.SHA256URL, filepath.Base(m.Path), nil)
	if err != nil {
		return "", fmt.Errorf("resolve checksum for model %s: %w", m.Name, err)
	}
	return sum, nil
}
