package record

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fmueller/voxpush/internal/audio"
	"github.com/fmueller/voxpush/internal/platform"
)

var (
	ErrAlreadyArmed = errors.New("capture already armed")
	ErrNotArmed     = errors.New("capture not armed")
)

// Recording is the audio accumulated between Arm and Disarm.
type Recording struct {
	Samples    []int16
	SampleRate int
	Channels   int
	StartedAt  time.Time
	Backend    string
}

func (r Recording) Empty() bool {
	return len(r.Samples) == 0
}

func (r Recording) Duration() time.Duration {
	if r.SampleRate <= 0 || r.Channels <= 0 {
		return 0
	}
	frames := len(r.Samples) / r.Channels
	return time.Duration(frames) * time.Second / time.Duration(r.SampleRate)
}

// session buffers chunks delivered by the backend callback.
type session struct {
	mu        sync.Mutex
	chunks    [][]int16
	startedAt time.Time
}

func (s *session) append(frames []int16) {
	s.mu.Lock()
	s.chunks = append(s.chunks, frames)
	s.mu.Unlock()
}

func (s *session) concat() []int16 {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, chunk := range s.chunks {
		total += len(chunk)
	}
	out := make([]int16, 0, total)
	for _, chunk := range s.chunks {
		out = append(out, chunk...)
	}
	return out
}

type CaptureOptions struct {
	Backends     []Backend
	Preferred    string
	Config       Config
	ArtifactPath string
	Logger       *zap.Logger
}

// Capture owns the microphone between Arm and Disarm.
type Capture struct {
	mu       sync.Mutex
	backends []Backend
	prefer   string
	cfg      Config
	path     string
	logger   *zap.Logger

	stream  Stream
	cancel  context.CancelFunc
	backend string
	current *session
}

func NewCapture(opts CaptureOptions) *Capture {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	backends := opts.Backends
	if backends == nil {
		backends = Backends(runtime.GOOS)
	}
	path := opts.ArtifactPath
	if path == "" {
		path = platform.CaptureArtifactPath()
	}

	cfg := opts.Config
	cfg.SampleRate = defaultSampleRate(cfg.SampleRate)
	cfg.Channels = defaultChannels(cfg.Channels)
	if cfg.Logger == nil {
		cfg.Logger = logger
	}

	return &Capture{backends: backends, prefer: opts.Preferred, cfg: cfg, path: path, logger: logger}
}

func (c *Capture) Armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream != nil
}

// ArtifactPath is where Persist writes.
func (c *Capture) ArtifactPath() string {
	return c.path
}

// Arm opens a stream on the first working backend. The stream outlives ctx's
// cancellation and runs until Disarm.
func (c *Capture) Arm(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		return ErrAlreadyArmed
	}

	sess := &session{startedAt: time.Now()}
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	backend, stream, err := openFirst(streamCtx, c.backends, c.prefer, c.cfg, sess.append)
	if err != nil {
		cancel()
		return fmt.Errorf("arm capture: %w", err)
	}

	c.stream = stream
	c.cancel = cancel
	c.backend = backend.Name()
	c.current = sess
	c.logger.Debug("capture armed", zap.String("backend", c.backend))
	return nil
}

// Disarm stops the stream and returns everything captured since Arm. A
// recording with no chunks is returned empty and without error.
func (c *Capture) Disarm() (Recording, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return Recording{}, ErrNotArmed
	}

	if err := c.stream.Close(); err != nil {
		c.logger.Warn("capture stream closed with error", zap.String("backend", c.backend), zap.Error(err))
	}
	c.cancel()

	rec := Recording{
		Samples:    c.current.concat(),
		SampleRate: c.cfg.SampleRate,
		Channels:   c.cfg.Channels,
		StartedAt:  c.current.startedAt,
		Backend:    c.backend,
	}

	c.stream = nil
	c.cancel = nil
	c.current = nil
	c.logger.Debug("capture disarmed", zap.Int("samples", len(rec.Samples)), zap.Duration("duration", rec.Duration()))
	return rec, nil
}

// Persist writes rec to the single-slot artifact path, replacing the
// previous capture.
func (c *Capture) Persist(rec Recording) (string, error) {
	clip := audio.Clip{Samples: rec.Samples, SampleRate: rec.SampleRate, Channels: rec.Channels}
	if err := audio.WriteWAV(c.path, clip); err != nil {
		return "", fmt.Errorf("persist recording: %w", err)
	}
	return c.path, nil
}
