package format

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrInvalidProfile = errors.New("invalid format profile")

// Error is a failed rewrite. It is logged and never reaches the user; the
// original text is delivered instead.
type Error struct {
	Profile string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("format with profile %q: %v", e.Profile, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Rewriter interface {
	Rewrite(ctx context.Context, model, systemPrompt, text string, options map[string]any) (string, error)
}

type Options struct {
	Path     string
	Default  string
	Rewriter Rewriter
	Logger   *zap.Logger
}

// Service holds the loaded profiles and the current selection.
type Service struct {
	path     string
	rewriter Rewriter
	logger   *zap.Logger

	mu       sync.RWMutex
	profiles map[string]Profile
	current  string
}

func NewService(opts Options) (*Service, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	profiles, err := LoadProfiles(opts.Path)
	if err != nil {
		return nil, err
	}

	s := &Service{path: opts.Path, rewriter: opts.Rewriter, logger: logger, profiles: profiles, current: Disable}
	if opts.Default != "" && opts.Default != Disable {
		if err := s.Select(opts.Default); err != nil {
			logger.Warn("default format profile unavailable, using disable", zap.String("profile", opts.Default))
		}
	}
	return s, nil
}

func (s *Service) Path() string {
	return s.path
}

// Reload re-reads the profile file. If the current profile disappeared the
// selection falls back to disable. On a parse error the previous profiles
// stay in effect.
func (s *Service) Reload() error {
	profiles, err := LoadProfiles(s.path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.profiles = profiles
	if _, ok := profiles[s.current]; !ok {
		s.logger.Warn("selected format profile removed, using disable", zap.String("profile", s.current))
		s.current = Disable
	}
	count := len(profiles)
	s.mu.Unlock()

	s.logger.Info("format profiles reloaded", zap.Int("count", count))
	return nil
}

func (s *Service) Select(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[name]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidProfile, name)
	}
	s.current = name
	return nil
}

func (s *Service) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Service) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedNames(s.profiles)
}

func (s *Service) Profile(name string) (Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[name]
	return p, ok
}

// ApplyCurrent formats text with the currently selected profile.
func (s *Service) ApplyCurrent(ctx context.Context, text string) string {
	return s.Apply(ctx, text, s.Current())
}

// Apply rewrites text with the named profile. Unknown or disabled profiles,
// blank input and rewrite failures all return text unchanged.
func (s *Service) Apply(ctx context.Context, text, name string) string {
	profile, ok := s.Profile(name)
	if !ok || !profile.Enabled || name == Disable {
		return text
	}
	if strings.TrimSpace(text) == "" || s.rewriter == nil {
		return text
	}

	started := time.Now()
	out, err := s.rewriter.Rewrite(ctx, profile.Model, profile.SystemPrompt, text, profile.Options)
	if err != nil {
		s.logger.Warn("formatting failed, delivering original text", zap.Error(&Error{Profile: name, Err: err}))
		return text
	}

	out = strings.TrimSpace(out)
	if out == "" {
		s.logger.Warn("formatter returned empty text, delivering original", zap.String("profile", name))
		return text
	}

	s.logger.Debug("formatted text", zap.String("profile", name), zap.Duration("took", time.Since(started)))
	return out
}
