// Package deliver puts finished text on the clipboard and optionally pastes
// it into the focused application.
package deliver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fmueller/voxpush/internal/clipboard"
	"github.com/fmueller/voxpush/internal/uiloop"
)

const DefaultPasteDelay = 150 * time.Millisecond

type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("deliver: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CopyFunc writes text to the clipboard.
type CopyFunc func(ctx context.Context, text string) error

type Options struct {
	Copy       CopyFunc
	Paster     Paster
	UI         *uiloop.Loop
	AutoPaste  bool
	PasteDelay time.Duration
	CopyEmpty  bool
	Logger     *zap.Logger
}

type Pipeline struct {
	copy      CopyFunc
	paster    Paster
	ui        *uiloop.Loop
	delay     time.Duration
	copyEmpty bool
	logger    *zap.Logger

	mu        sync.Mutex
	autoPaste bool
	pending   *time.Timer
	pastes    sync.WaitGroup
}

func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	copyFn := opts.Copy
	if copyFn == nil {
		copyFn = clipboard.CopyText
	}
	paster := opts.Paster
	if paster == nil {
		paster = &KeyPaster{}
	}
	delay := opts.PasteDelay
	if delay <= 0 {
		delay = DefaultPasteDelay
	}

	return &Pipeline{
		copy:      copyFn,
		paster:    paster,
		ui:        opts.UI,
		delay:     delay,
		copyEmpty: opts.CopyEmpty,
		autoPaste: opts.AutoPaste,
		logger:    logger,
	}
}

func (p *Pipeline) SetAutoPaste(enabled bool) {
	p.mu.Lock()
	p.autoPaste = enabled
	p.mu.Unlock()
}

func (p *Pipeline) AutoPaste() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.autoPaste
}

// Deliver copies text to the clipboard on the UI loop and, with auto-paste
// on, schedules the paste shortcut. Blank text leaves the clipboard alone
// unless CopyEmpty is set.
func (p *Pipeline) Deliver(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" && !p.copyEmpty {
		p.logger.Debug("nothing to deliver")
		return nil
	}

	err := p.onUI(ctx, func() error { return p.copy(ctx, text) })
	if err != nil {
		return &Error{Op: "copy", Err: err}
	}
	p.logger.Info("copied text to clipboard", zap.Int("chars", len(text)))

	if p.AutoPaste() && text != "" {
		p.schedulePaste()
	}
	return nil
}

func (p *Pipeline) schedulePaste() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pending != nil && p.pending.Stop() {
		p.pastes.Done()
	}
	p.pastes.Add(1)
	p.pending = time.AfterFunc(p.delay, func() {
		defer p.pastes.Done()
		err := p.onUI(context.Background(), p.paster.Paste)
		if err != nil {
			p.logger.Warn("auto-paste failed", zap.Error(&Error{Op: "paste", Err: err}))
		}
	})
}

func (p *Pipeline) onUI(ctx context.Context, fn func() error) error {
	if p.ui == nil {
		return fn()
	}
	return p.ui.Call(ctx, fn)
}

// Wait blocks until a scheduled paste has run.
func (p *Pipeline) Wait() {
	p.pastes.Wait()
}

// Close cancels a paste that has not fired yet.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending != nil && p.pending.Stop() {
		p.pastes.Done()
	}
	p.pending = nil
}
