package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/fmueller/voxpush/internal/clipboard"
	"github.com/fmueller/voxpush/internal/config"
	"github.com/fmueller/voxpush/internal/deliver"
	"github.com/fmueller/voxpush/internal/format"
	"github.com/fmueller/voxpush/internal/history"
	"github.com/fmueller/voxpush/internal/hotkey"
	"github.com/fmueller/voxpush/internal/indicator"
	"github.com/fmueller/voxpush/internal/model"
	"github.com/fmueller/voxpush/internal/ollama"
	"github.com/fmueller/voxpush/internal/orchestrator"
	"github.com/fmueller/voxpush/internal/platform"
	"github.com/fmueller/voxpush/internal/record"
	"github.com/fmueller/voxpush/internal/server"
	"github.com/fmueller/voxpush/internal/shell"
	"github.com/fmueller/voxpush/internal/transcribe"
	"github.com/fmueller/voxpush/internal/uiloop"
	"github.com/fmueller/voxpush/internal/version"
	"github.com/fmueller/voxpush/internal/whisper"
)

// service is every long-lived component of a running voxpush.
type service struct {
	catalog   *whisper.Catalog
	manager   *model.Manager
	history   *history.Store
	formats   *format.Service
	themes    *indicator.Themes
	indicator *indicator.Indicator
	ui        *uiloop.Loop
	pipeline  *deliver.Pipeline
	orch      *orchestrator.Orchestrator
	server    *server.Server
}

func (a *appState) buildService(ctx context.Context) (*service, error) {
	s := a.settings
	logger := a.log()

	if err := os.MkdirAll(s.Model.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create model directory %s: %w", s.Model.Dir, err)
	}
	catalog := whisper.NewCatalog(s.Model.Dir)
	if len(catalog.Names()) == 0 {
		logger.Warn("no models installed; run voxpush setup", zap.String("dir", s.Model.Dir))
	}

	var engine whisper.Engine
	if e, err := whisper.LocateEngine(logger); err != nil {
		logger.Warn("whisper engine unavailable; transcription will fail until it is installed", zap.Error(err))
	} else {
		engine = e
	}
	manager := model.NewManager(model.Options{
		Loader:        &whisper.Loader{Engine: engine, ModelDir: s.Model.Dir, Logger: logger},
		Selection:     model.Selection{Model: s.Model.Name, Device: s.Model.Device},
		IdleTimeout:   s.Model.IdleTimeout,
		SweepInterval: s.Model.SweepInterval,
		Logger:        logger,
	})

	svc := &service{catalog: catalog, manager: manager}

	topts := transcribe.Options{
		Models:           manager,
		SilenceGate:      s.Silence.Gate,
		SilenceThreshold: s.Silence.ThresholdDBFS,
		Logger:           logger,
	}
	if s.Transcripts.Save {
		topts.SaveDir = s.Transcripts.Dir
	}
	if s.History.Enabled && s.History.Path != "" {
		store, err := history.Open(s.History.Path)
		if err != nil {
			logger.Warn("history disabled", zap.String("path", s.History.Path), zap.Error(err))
		} else {
			svc.history = store
			topts.Sink = store
		}
	}
	transcriber := transcribe.NewService(topts)

	rewriter := ollama.NewClient(ollama.Config{BaseURL: s.Format.BaseURL, Timeout: s.Format.Timeout, Logger: logger})
	formats, err := format.NewService(format.Options{
		Path:     s.Format.ConfigPath,
		Default:  s.Format.Default,
		Rewriter: rewriter,
		Logger:   logger,
	})
	if err != nil {
		svc.close()
		return nil, err
	}
	svc.formats = formats
	if len(formats.Names()) > 1 && !rewriter.IsAvailable(ctx) {
		logger.Warn("ollama is not reachable; format profiles will pass text through", zap.String("url", s.Format.BaseURL))
	}

	themes, err := indicator.NewThemes(s.UI.Themes, s.UI.Theme)
	if err != nil {
		svc.close()
		return nil, err
	}
	svc.themes = themes
	svc.indicator = indicator.New(
		indicator.LogSink(logger),
		indicator.NotifySink{Logger: logger},
	)

	svc.ui = uiloop.Start()
	svc.pipeline = deliver.New(deliver.Options{
		Copy:       clipboard.CopyText,
		Paster:     &deliver.KeyPaster{},
		UI:         svc.ui,
		AutoPaste:  s.Delivery.AutoPaste,
		PasteDelay: s.Delivery.PasteDelay,
		CopyEmpty:  s.Delivery.CopyEmpty,
		Logger:     logger,
	})

	capture := record.NewCapture(record.CaptureOptions{
		Preferred:    s.Capture.Backend,
		Config:       record.Config{Input: s.Capture.Input, Format: s.Capture.Format},
		ArtifactPath: platform.CaptureArtifactPath(),
		Logger:       logger,
	})
	svc.orch = orchestrator.New(orchestrator.Options{
		Capture:     capture,
		Transcriber: transcriber,
		Formatter:   formats,
		Deliverer:   svc.pipeline,
		Indicator:   svc.indicator,
		Logger:      logger,
	})

	state := &server.ServiceState{
		Models:      manager,
		Catalog:     catalog,
		Formats:     formats,
		Themes:      themes,
		Indicator:   svc.indicator,
		Transcriber: transcriber,
		Toggler:     svc.orch,
		Delivery:    svc.pipeline,
		UploadDir:   os.TempDir(),
	}
	if svc.history != nil {
		state.History = svc.history
	}
	svc.server = server.New(server.Config{Host: s.Server.Host, Port: s.Server.Port}, state, logger)

	return svc, nil
}

// close releases everything after the supervised goroutines have stopped.
// In-flight cycles run to completion first.
func (s *service) close() {
	if s.orch != nil {
		s.orch.Wait()
	}
	if s.pipeline != nil {
		s.pipeline.Close()
	}
	if s.ui != nil {
		s.ui.Close()
	}
	if s.manager != nil {
		s.manager.Close()
	}
	if s.history != nil {
		_ = s.history.Close()
	}
}

func (a *appState) runService(ctx context.Context) error {
	logger := a.log()
	defer func() { _ = logger.Sync() }()

	svc, err := a.buildService(ctx)
	if err != nil {
		return err
	}
	defer svc.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	binding, err := hotkey.Parse(a.settings.Hotkey)
	if err != nil {
		return err
	}

	var sources []hotkey.Source
	if hotkey.GlobalSupported() {
		sources = append(sources, &hotkey.GlobalSource{Binding: binding})
	}

	mode := a.settings.UI.Mode
	if mode != "none" && !term.IsTerminal(int(os.Stdin.Fd())) {
		logger.Warn("stdin is not a terminal; running without a front end", zap.String("ui", mode))
		mode = "none"
	}

	var program *tea.Program
	switch mode {
	case "shell":
		toggles := make(chan struct{}, 1)
		sources = append(sources, hotkey.FuncSource{Label: "shell", Events: toggles})
		hint := binding.String()
		if !hotkey.GlobalSupported() {
			hint = ""
		}
		program = tea.NewProgram(shell.New(shell.Options{
			Themes:  svc.themes,
			Toggles: toggles,
			Hotkey:  hint,
			Initial: svc.indicator.Current(),
		}), tea.WithContext(ctx))
		svc.indicator.Add(shell.Sink{Program: program})
		svc.orch.OnComplete(func(r orchestrator.CycleResult) {
			program.Send(shell.ResultMsg{Text: r.Delivered, Err: r.Err})
		})
	case "terminal":
		src, err := hotkey.NewTerminalSource(os.Stdin)
		if err != nil {
			return err
		}
		sources = append(sources, src)
		fmt.Fprintln(os.Stderr, "Press Enter to start or stop dictation. Ctrl+C quits.")
	}

	controller := hotkey.NewController(svc.orch, logger, sources...)

	logger.Info("voxpush started",
		zap.String("version", version.Resolve()),
		zap.String("model", a.settings.Model.Name),
		zap.String("device", a.settings.Model.Device),
		zap.Strings("models", svc.catalog.Names()),
		zap.String("ui", mode),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.server.Run(gctx) })
	g.Go(func() error { return svc.manager.Run(gctx) })
	g.Go(func() error { return controller.Run(gctx) })
	g.Go(func() error {
		return config.Watch(gctx, logger, a.watchTargets(svc)...)
	})
	if program != nil {
		g.Go(func() error {
			defer cancel()
			_, err := program.Run()
			if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return fmt.Errorf("shell: %w", err)
			}
			return nil
		})
	}

	err = g.Wait()
	logger.Info("voxpush stopping")
	return err
}

func (a *appState) watchTargets(svc *service) []config.Target {
	logger := a.log()
	targets := []config.Target{{
		Path: svc.catalog.Dir(),
		Dir:  true,
		OnChange: func() {
			logger.Info("model directory changed", zap.Strings("models", svc.catalog.Refresh()))
		},
	}}
	if path := svc.formats.Path(); path != "" {
		targets = append(targets, config.Target{
			Path: path,
			OnChange: func() {
				if err := svc.formats.Reload(); err != nil {
					logger.Warn("format profiles not reloaded", zap.Error(err))
					return
				}
				logger.Info("format profiles reloaded", zap.Strings("formats", svc.formats.Names()))
			},
		})
	}
	return targets
}
