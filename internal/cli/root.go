package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/fmueller/voxpush/internal/config"
	"github.com/fmueller/voxpush/internal/logging"
	"github.com/fmueller/voxpush/internal/platform"
	"github.com/fmueller/voxpush/internal/version"
)

type appState struct {
	configFile string
	envFile    string
	noProgress bool

	settings config.Settings
	dirs     platform.Dirs
	logger   *zap.Logger

	resolveDirs func() (platform.Dirs, error)
	copyFn      func(ctx context.Context, value string) error
}

func newAppState() *appState {
	return &appState{
		resolveDirs: platform.ResolveDirs,
	}
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(newAppState())
}

// flagKeys maps command-line flags onto settings keys. A flag only overrides
// the configuration when it was set explicitly.
var flagKeys = map[string]string{
	"verbose":                "log.verbose",
	"json":                   "log.json",
	"host":                   "server.host",
	"port":                   "server.port",
	"model":                  "model.name",
	"device":                 "model.device",
	"model-dir":              "model.dir",
	"idle-timeout":           "model.idle_timeout",
	"format":                 "format.default",
	"format-config":          "format.config_path",
	"ollama-url":             "format.base_url",
	"auto-paste":             "delivery.auto_paste",
	"copy-empty":             "delivery.copy_empty",
	"backend":                "capture.backend",
	"input":                  "capture.input",
	"input-format":           "capture.format",
	"hotkey":                 "hotkey",
	"ui":                     "ui.mode",
	"theme":                  "ui.theme",
	"save-transcripts":       "transcripts.save",
	"history":                "history.enabled",
	"silence-gate":           "silence.gate",
	"silence-threshold-dbfs": "silence.threshold_dbfs",
}

func newRootCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "voxpush",
		Short:         "Push-to-talk dictation: record, transcribe, paste",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Resolve(),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.load(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runService(cmd.Context())
		},
	}

	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVar(&app.configFile, "config", "", "Config file (default <config dir>/config.yml)")
	pf.StringVar(&app.envFile, "env-file", "", "Env file with VOXPUSH_* variables (default ./.env)")
	pf.Bool("verbose", false, "Enable verbose logs")
	pf.Bool("json", false, "Enable JSON logging")
	pf.BoolVar(&app.noProgress, "no-progress", false, "Disable progress indicators")
	pf.String("host", "127.0.0.1", "HTTP API host")
	pf.Int("port", 5000, "HTTP API port")
	pf.String("model", "small.en", "Whisper model name")
	pf.String("model-dir", "", "Directory where models are stored")

	f := cmd.Flags()
	f.String("device", "cpu", "Inference device: cpu|cuda")
	f.Duration("idle-timeout", 0, "Unload the model after this much inactivity")
	f.String("format", "disable", "Initial format profile")
	f.String("format-config", "", "Format profile file (default <config dir>/format_config.json)")
	f.String("ollama-url", "", "Ollama base URL used by format profiles")
	f.Bool("auto-paste", true, "Send the paste shortcut after copying")
	f.Bool("copy-empty", false, "Copy blank transcripts to clipboard")
	f.String("backend", "auto", "Recording backend: auto|portaudio|pw-record|arecord|ffmpeg")
	f.String("input", "", "Input device (run \"voxpush devices\" to list)")
	f.String("input-format", "", "Input format for the ffmpeg backend (pulse|alsa)")
	f.String("hotkey", "alt+s", "Global hotkey, e.g. alt+s or ctrl+shift+f9")
	f.String("ui", "shell", "Front end: shell|terminal|none")
	f.String("theme", "", "Indicator theme")
	f.Bool("save-transcripts", true, "Save every transcript as a text file")
	f.Bool("history", true, "Record transcripts in the history database")
	f.Bool("silence-gate", true, "Skip transcription of near-silent recordings")
	f.Float64("silence-threshold-dbfs", -65, "Silence gate threshold in dBFS")

	cmd.AddCommand(newSetupCmd(app))
	cmd.AddCommand(newDevicesCmd(app))
	cmd.AddCommand(newRecordCmd(app))
	cmd.AddCommand(newTranscribeCmd(app))
	cmd.AddCommand(newToggleCmd(app))
	cmd.AddCommand(newStatusCmd(app))
	cmd.AddCommand(newHistoryCmd(app))
	cmd.AddCommand(newMCPCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// load resolves the settings for cmd and builds the logger. The service run
// also logs to <logs>/run.log; in shell mode that file is the only sink.
func (a *appState) load(cmd *cobra.Command) error {
	dirs, err := a.resolveDirs()
	if err != nil {
		return err
	}
	a.dirs = dirs

	overrides := map[string]string{}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			overrides[key] = f.Value.String()
		}
	})

	settings, used, err := config.Load(config.Options{
		ConfigFile: a.configFile,
		EnvFile:    a.envFile,
		Dirs:       dirs,
		Overrides:  overrides,
	})
	if err != nil {
		return err
	}
	a.settings = settings

	opts := logging.Options{Verbose: settings.Log.Verbose, JSON: settings.Log.JSON}
	if cmd == cmd.Root() {
		if dirs.Logs != "" {
			if err := os.MkdirAll(dirs.Logs, 0o755); err != nil {
				return fmt.Errorf("create log directory: %w", err)
			}
			opts.File = filepath.Join(dirs.Logs, "run.log")
		}
		opts.DisableConsole = settings.UI.Mode == "shell"
	}
	logger, err := logging.New(opts)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	a.logger = logger

	if used != "" {
		logger.Debug("config loaded", zap.String("path", used))
	}
	return nil
}

func (a *appState) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

func (a *appState) progressEnabled() bool {
	if a.noProgress {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}
