package whisper

import (
	"context"
	"fmt"
	"os"
	"slices"

	"go.uber.org/zap"

	"github.com/fmueller/voxpush/internal/model"
)

const (
	DeviceCPU  = "cpu"
	DeviceCUDA = "cuda"
)

var devices = []string{DeviceCPU, DeviceCUDA}

// Request is a single engine run against a model file on disk.
type Request struct {
	AudioPath string
	ModelPath string
	Language  string
	Task      string
	Device    string
}

type Engine interface {
	Run(ctx context.Context, req Request) (string, error)
}

// Loader resolves a Selection against the model directory and binds it to an
// engine. whisper-cli reads the model on every run, so loading validates the
// model file and device instead of holding weights in memory.
type Loader struct {
	Engine   Engine
	ModelDir string
	Logger   *zap.Logger
}

func (l *Loader) Load(ctx context.Context, sel model.Selection) (model.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.Engine == nil {
		return nil, fmt.Errorf("no whisper engine configured")
	}
	if !slices.Contains(devices, sel.Device) {
		return nil, fmt.Errorf("unsupported device %q", sel.Device)
	}

	resolved, err := ResolveModel(sel.Model, l.ModelDir)
	if err != nil {
		return nil, err
	}
	if resolved.NeedsDownload {
		return nil, fmt.Errorf("model %s is not installed at %s; run voxpush setup --model %s", resolved.Name, resolved.Path, resolved.Name)
	}
	f, err := os.Open(resolved.Path)
	if err != nil {
		return nil, fmt.Errorf("open model: %w", err)
	}
	_ = f.Close()

	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("model bound", zap.String("model", resolved.Name), zap.String("path", resolved.Path), zap.String("device", sel.Device))

	return &handle{engine: l.Engine, modelPath: resolved.Path, device: sel.Device}, nil
}

type handle struct {
	engine    Engine
	modelPath string
	device    string
}

func (h *handle) Transcribe(ctx context.Context, req model.Request) (string, error) {
	return h.engine.Run(ctx, Request{
		AudioPath: req.AudioPath,
		ModelPath: h.modelPath,
		Language:  req.Language,
		Task:      req.Task,
		Device:    h.device,
	})
}

func (h *handle) Close() error {
	return nil
}
