package hotkey

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fmueller/voxpush/internal/orchestrator"
)

// Source delivers trigger events. Run blocks until ctx is done or the source
// fails, calling fire once per event.
type Source interface {
	Name() string
	Run(ctx context.Context, fire func()) error
}

type Toggler interface {
	Toggle(ctx context.Context) error
}

// Controller feeds every event from its sources into Toggle.
type Controller struct {
	toggler Toggler
	sources []Source
	logger  *zap.Logger
}

func NewController(toggler Toggler, logger *zap.Logger, sources ...Source) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{toggler: toggler, sources: sources, logger: logger}
}

// Run starts all sources and returns once ctx is cancelled and every source
// has stopped. A failing source is logged and dropped; the others keep firing.
func (c *Controller) Run(ctx context.Context) error {
	var g errgroup.Group
	for _, src := range c.sources {
		g.Go(func() error {
			c.logger.Info("hotkey source started", zap.String("source", src.Name()))
			err := src.Run(ctx, func() { c.fire(ctx, src.Name()) })
			if err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Error("hotkey source failed", zap.String("source", src.Name()), zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *Controller) fire(ctx context.Context, source string) {
	err := c.toggler.Toggle(ctx)
	switch {
	case err == nil:
	case errors.Is(err, orchestrator.ErrBusy):
		c.logger.Debug("toggle ignored while finishing", zap.String("source", source))
	default:
		c.logger.Warn("toggle failed", zap.String("source", source), zap.Error(err))
	}
}

// FuncSource adapts a channel-fed trigger, such as the shell's key handler.
type FuncSource struct {
	Label  string
	Events <-chan struct{}
}

func (f FuncSource) Name() string { return f.Label }

func (f FuncSource) Run(ctx context.Context, fire func()) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-f.Events:
			if !ok {
				return nil
			}
			fire()
		}
	}
}
