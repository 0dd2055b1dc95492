package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fmueller/voxpush/internal/audio"
	"github.com/fmueller/voxpush/internal/record"
)

type recordOptions struct {
	duration time.Duration
	output   string
}

// newRecordCmd is a microphone check: it runs one capture through the same
// backends as the service and reports whether the silence gate would drop it.
func newRecordCmd(app *appState) *cobra.Command {
	opts := &recordOptions{}

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a test clip into a WAV file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := app.recordClip(cmd.Context(), *opts)
			if err != nil {
				return err
			}

			silent, metrics, err := audio.IsSilentWAV(path, app.settings.Silence.ThresholdDBFS)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			fmt.Fprintf(cmd.OutOrStdout(), "rms %.1f dBFS, peak %.1f dBFS, silent=%t\n", metrics.RMSdBFS, metrics.PeakdBFS, silent)
			if silent {
				app.log().Warn(noSpeechHint())
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&opts.duration, "duration", 3*time.Second, "Record duration")
	cmd.Flags().StringVar(&opts.output, "output", "", "Output WAV file path (default <data dir>/voxpush_test.wav)")
	cmd.Flags().String("backend", "auto", "Recording backend: auto|portaudio|pw-record|arecord|ffmpeg")
	cmd.Flags().String("input", "", "Input device (run \"voxpush devices\" to list)")
	cmd.Flags().String("input-format", "", "Input format for the ffmpeg backend (pulse|alsa)")
	cmd.Flags().Float64("silence-threshold-dbfs", -65, "Silence threshold in dBFS")

	return cmd
}

func (a *appState) recordClip(ctx context.Context, opts recordOptions) (string, error) {
	if opts.duration <= 0 {
		return "", fmt.Errorf("duration must be positive, got %s", opts.duration)
	}

	outPath := opts.output
	if outPath == "" {
		outPath = filepath.Join(a.dirs.Data, "voxpush_test.wav")
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	capture := record.NewCapture(record.CaptureOptions{
		Preferred: a.settings.Capture.Backend,
		Config: record.Config{
			Input:  a.settings.Capture.Input,
			Format: a.settings.Capture.Format,
		},
		ArtifactPath: outPath,
		Logger:       a.log(),
	})

	if err := capture.Arm(ctx); err != nil {
		return "", err
	}
	a.log().Info("recording started", zap.String("output", outPath), zap.Duration("duration", opts.duration))

	stop := startDurationProgress(a.progressEnabled(), "Recording", opts.duration)
	timer := time.NewTimer(opts.duration)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
	}
	stop()

	rec, err := capture.Disarm()
	if err != nil {
		return "", err
	}
	if rec.Empty() {
		return "", fmt.Errorf("no audio captured from backend %s", rec.Backend)
	}
	path, err := capture.Persist(rec)
	if err != nil {
		return "", err
	}

	a.log().Info("recording finished", zap.String("path", path), zap.Duration("recorded", rec.Duration()))
	return path, nil
}

func noSpeechHint() string {
	return "No speech detected. Check mic mute and selected input device, then try again."
}
