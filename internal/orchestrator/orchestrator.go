// Package orchestrator drives one dictation cycle per toggle pair:
// arm the microphone, then disarm, transcribe, format and deliver.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fmueller/voxpush/internal/indicator"
	"github.com/fmueller/voxpush/internal/record"
	"github.com/fmueller/voxpush/internal/transcribe"
)

const DefaultErrorHold = 1500 * time.Millisecond

// ErrBusy is returned by Toggle while a cycle is finishing.
var ErrBusy = errors.New("transcription in progress")

type State int

const (
	Idle State = iota
	Arming
	Armed
	Finishing
)

func (s State) String() string {
	switch s {
	case Arming:
		return "arming"
	case Armed:
		return "armed"
	case Finishing:
		return "finishing"
	default:
		return "idle"
	}
}

type Capture interface {
	Arm(ctx context.Context) error
	Disarm() (record.Recording, error)
	Persist(rec record.Recording) (string, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, path string) (transcribe.Transcript, error)
}

type Formatter interface {
	ApplyCurrent(ctx context.Context, text string) string
}

type Deliverer interface {
	Deliver(ctx context.Context, text string) error
}

type Indicator interface {
	Set(status indicator.Status, detail string)
}

// CycleResult describes one finished Armed to Idle cycle.
type CycleResult struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Recorded   time.Duration
	Transcript transcribe.Transcript
	Delivered  string
	// Empty is set when nothing was captured and transcription was skipped.
	Empty bool
	Err   error
}

type Options struct {
	Capture     Capture
	Transcriber Transcriber
	Formatter   Formatter
	Deliverer   Deliverer
	Indicator   Indicator
	ErrorHold   time.Duration
	Logger      *zap.Logger
}

type Orchestrator struct {
	capture     Capture
	transcriber Transcriber
	formatter   Formatter
	deliverer   Deliverer
	indicator   Indicator
	errorHold   time.Duration
	logger      *zap.Logger

	mu        sync.Mutex
	state     State
	cycleID   string
	armedAt   time.Time
	listeners []func(CycleResult)

	inflight sync.WaitGroup
}

func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	hold := opts.ErrorHold
	if hold <= 0 {
		hold = DefaultErrorHold
	}
	ind := opts.Indicator
	if ind == nil {
		ind = indicator.New()
	}

	return &Orchestrator{
		capture:     opts.Capture,
		transcriber: opts.Transcriber,
		formatter:   opts.Formatter,
		deliverer:   opts.Deliverer,
		indicator:   ind,
		errorHold:   hold,
		logger:      logger,
	}
}

// OnComplete registers fn to run after every cycle, on the worker goroutine.
func (o *Orchestrator) OnComplete(fn func(CycleResult)) {
	o.mu.Lock()
	o.listeners = append(o.listeners, fn)
	o.mu.Unlock()
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// CycleID is the ID of the armed or finishing cycle, or "" when idle.
func (o *Orchestrator) CycleID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cycleID
}

// Toggle advances the state machine. From Idle it arms the capture; from
// Armed it hands the recording to a background worker and returns at once.
// While the capture is starting or that worker runs every toggle is rejected
// with ErrBusy. The lock is not held across Arm, so State stays responsive.
func (o *Orchestrator) Toggle(ctx context.Context) error {
	o.mu.Lock()
	switch o.state {
	case Idle:
		o.state = Arming
		o.mu.Unlock()
		return o.arm(ctx)

	case Armed:
		o.state = Finishing
		id, startedAt := o.cycleID, o.armedAt
		o.inflight.Add(1)
		o.mu.Unlock()

		o.indicator.Set(indicator.Transcribing, "")
		go o.finish(context.WithoutCancel(ctx), id, startedAt)
		return nil

	default:
		state, id := o.state, o.cycleID
		o.mu.Unlock()
		o.logger.Debug("toggle ignored", zap.Stringer("state", state), zap.String("cycle", id))
		return ErrBusy
	}
}

func (o *Orchestrator) arm(ctx context.Context) error {
	if err := o.capture.Arm(ctx); err != nil {
		o.logger.Error("failed to start recording", zap.Error(err))
		o.mu.Lock()
		o.state = Finishing
		o.inflight.Add(1)
		o.mu.Unlock()
		go o.holdError(err)
		return err
	}

	id := uuid.NewString()
	o.logger.Info("recording started", zap.String("cycle", id))
	o.indicator.Set(indicator.Listening, "")

	o.mu.Lock()
	o.state = Armed
	o.cycleID = id
	o.armedAt = time.Now()
	o.mu.Unlock()
	return nil
}

// Wait blocks until no cycle is in flight.
func (o *Orchestrator) Wait() {
	o.inflight.Wait()
}

func (o *Orchestrator) holdError(err error) {
	defer o.inflight.Done()
	o.showError(err)
	o.reset()
}

func (o *Orchestrator) finish(ctx context.Context, id string, startedAt time.Time) {
	defer o.inflight.Done()

	res := o.run(ctx, id)
	res.ID = id
	res.StartedAt = startedAt
	res.FinishedAt = time.Now()

	if res.Err != nil {
		o.logger.Error("dictation cycle failed", zap.String("cycle", id), zap.Error(res.Err))
		o.showError(res.Err)
	} else {
		o.logger.Info("dictation cycle complete",
			zap.String("cycle", id),
			zap.Duration("recorded", res.Recorded),
			zap.Duration("took", res.FinishedAt.Sub(startedAt)),
			zap.Int("chars", len(res.Delivered)),
		)
		o.indicator.Set(indicator.Idle, "")
	}

	o.reset()
	o.notify(res)
}

func (o *Orchestrator) run(ctx context.Context, id string) CycleResult {
	var res CycleResult

	rec, err := o.capture.Disarm()
	if err != nil {
		res.Err = err
		return res
	}
	res.Recorded = rec.Duration()
	if rec.Empty() {
		o.logger.Info("nothing recorded, skipping transcription", zap.String("cycle", id))
		res.Empty = true
		return res
	}

	path, err := o.capture.Persist(rec)
	if err != nil {
		res.Err = err
		return res
	}

	tr, err := o.transcriber.Transcribe(ctx, path)
	if err != nil {
		res.Err = err
		return res
	}
	res.Transcript = tr

	text := tr.Text
	if o.formatter != nil {
		text = o.formatter.ApplyCurrent(ctx, text)
	}
	res.Delivered = text

	if o.deliverer != nil {
		if err := o.deliverer.Deliver(ctx, text); err != nil {
			res.Err = err
		}
	}
	return res
}

func (o *Orchestrator) showError(err error) {
	o.indicator.Set(indicator.Error, err.Error())
	time.Sleep(o.errorHold)
	o.indicator.Set(indicator.Idle, "")
}

func (o *Orchestrator) reset() {
	o.mu.Lock()
	o.state = Idle
	o.cycleID = ""
	o.armedAt = time.Time{}
	o.mu.Unlock()
}

func (o *Orchestrator) notify(res CycleResult) {
	o.mu.Lock()
	listeners := make([]func(CycleResult), len(o.listeners))
	copy(listeners, o.listeners)
	o.mu.Unlock()

	for _, fn := range listeners {
		fn(res)
	}
}
