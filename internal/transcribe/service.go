package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/fmueller/voxpush/internal/audio"
	"github.com/fmueller/voxpush/internal/model"
)

const (
	IDLayout = "20060102_150405"

	blankAudioToken = "[BLANK_AUDIO]"
)

// NewID stamps at with second resolution and appends the process-wide xid
// counter, so transcripts created within the same second stay distinct.
func NewID(at time.Time) string {
	return fmt.Sprintf("%s_%06x", at.Format(IDLayout), xid.New().Counter())
}

// Transcript is the immutable result of one transcription.
type Transcript struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	SavedPath string    `json:"saved,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Model     string    `json:"model,omitempty"`
	Device    string    `json:"device,omitempty"`
	Silent    bool      `json:"silent,omitempty"`
}

// Error is returned when the artifact cannot be read or inference fails.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transcription %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Models interface {
	Acquire(ctx context.Context) (*model.Lease, error)
}

// Sink receives every non-silent transcript, e.g. the history store.
type Sink interface {
	Record(ctx context.Context, t Transcript) error
}

type Options struct {
	Models Models
	// SaveDir receives transcript_<id>.txt files. Empty disables saving.
	SaveDir          string
	Sink             Sink
	SilenceGate      bool
	SilenceThreshold float64
	Language         string
	Task             string
	Now              func() time.Time
	Logger           *zap.Logger
}

type Service struct {
	opts   Options
	logger *zap.Logger
}

func NewService(opts Options) *Service {
	if opts.Language == "" {
		opts.Language = "en"
	}
	if opts.Task == "" {
		opts.Task = "transcribe"
	}
	if opts.SilenceThreshold == 0 {
		opts.SilenceThreshold = audio.DefaultSilenceThresholdDBFS
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{opts: opts, logger: logger}
}

// Transcribe consumes the artifact at path. The artifact is removed on every
// return path.
func (s *Service) Transcribe(ctx context.Context, path string) (Transcript, error) {
	defer s.removeArtifact(path)

	info, err := os.Stat(path)
	if err != nil {
		return Transcript{}, &Error{Op: "read artifact", Err: err}
	}
	if info.IsDir() {
		return Transcript{}, &Error{Op: "read artifact", Err: fmt.Errorf("%s is a directory", path)}
	}

	createdAt := s.opts.Now()
	tr := Transcript{ID: NewID(createdAt), CreatedAt: createdAt}

	if s.opts.SilenceGate && s.silent(path) {
		tr.Silent = true
		return tr, nil
	}

	lease, err := s.opts.Models.Acquire(ctx)
	if err != nil {
		return Transcript{}, fmt.Errorf("acquire model: %w", err)
	}
	defer lease.Release()

	started := time.Now()
	raw, err := lease.Handle().Transcribe(ctx, model.Request{
		AudioPath: path,
		Language:  s.opts.Language,
		Task:      s.opts.Task,
	})
	if err != nil {
		return Transcript{}, &Error{Op: "inference", Err: err}
	}

	sel := lease.Selection()
	tr.Text = Clean(raw)
	tr.Model = sel.Model
	tr.Device = sel.Device
	s.logger.Info("transcribed",
		zap.String("id", tr.ID),
		zap.Stringer("selection", sel),
		zap.Int("chars", len(tr.Text)),
		zap.Duration("took", time.Since(started)),
	)

	if s.opts.SaveDir != "" {
		saved, err := s.save(tr)
		if err != nil {
			s.logger.Warn("save transcript", zap.Error(err))
		} else {
			tr.SavedPath = saved
		}
	}
	if s.opts.Sink != nil {
		if err := s.opts.Sink.Record(ctx, tr); err != nil {
			s.logger.Warn("record transcript history", zap.Error(err))
		}
	}

	return tr, nil
}

// Clean trims engine output and maps whisper's blank marker to "".
func Clean(raw string) string {
	text := strings.TrimSpace(raw)
	text = strings.ReplaceAll(text, blankAudioToken, "")
	return strings.TrimSpace(text)
}

func (s *Service) silent(path string) bool {
	silent, metrics, err := audio.IsSilentWAV(path, s.opts.SilenceThreshold)
	if err != nil {
		if !errors.Is(err, audio.ErrInvalidWAV) && !errors.Is(err, audio.ErrUnsupportedWAV) {
			s.logger.Warn("silence gate skipped", zap.Error(err))
		}
		return false
	}
	if silent {
		s.logger.Info("skipping transcription of silent audio",
			zap.Float64("rms_dbfs", metrics.RMSdBFS),
			zap.Float64("peak_dbfs", metrics.PeakdBFS),
			zap.Int64("samples", metrics.Samples),
		)
	}
	return silent
}

func (s *Service) save(tr Transcript) (string, error) {
	if err := os.MkdirAll(s.opts.SaveDir, 0o755); err != nil {
		return "", fmt.Errorf("create transcripts dir: %w", err)
	}
	path := filepath.Join(s.opts.SaveDir, "transcript_"+tr.ID+".txt")
	if err := os.WriteFile(path, []byte(tr.Text+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write transcript: %w", err)
	}
	return path, nil
}

func (s *Service) removeArtifact(path string) {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("remove audio artifact", zap.String("path", path), zap.Error(err))
	}
}
