package record

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"
)

var ErrNoBackendAvailable = errors.New("no recording backend available")

const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1
)

// Config describes the PCM a backend must deliver. Input and Format are
// backend specific device selectors; empty means the system default.
type Config struct {
	SampleRate int
	Channels   int
	Input      string
	Format     string
	Logger     *zap.Logger
}

// Stream is a running capture. Close stops delivery and releases the device;
// no frames are delivered after Close returns.
type Stream interface {
	Close() error
}

type Backend interface {
	Name() string
	Available() bool
	Open(ctx context.Context, cfg Config, onFrames func([]int16)) (Stream, error)
	ListDevices(ctx context.Context) (string, error)
}

// optionalBackends are registered by build-tagged files and take priority
// over the command backends.
var optionalBackends []func() Backend

// Backends returns the capture backends for goos in preference order.
func Backends(goos string) []Backend {
	backends := make([]Backend, 0, len(optionalBackends)+3)
	for _, newBackend := range optionalBackends {
		backends = append(backends, newBackend())
	}
	return append(backends, commandBackends(goos)...)
}

// openFirst opens the preferred backend, then every other one in order, and
// returns the first stream that starts. "auto" and "" keep the given order.
func openFirst(ctx context.Context, backends []Backend, preferred string, cfg Config, onFrames func([]int16)) (Backend, Stream, error) {
	ordered, err := preferFirst(backends, preferred)
	if err != nil {
		return nil, nil, err
	}

	var errs []error
	for _, b := range ordered {
		if !b.Available() {
			errs = append(errs, fmt.Errorf("%s: backend is not available", b.Name()))
			continue
		}
		stream, err := b.Open(ctx, cfg, onFrames)
		if err == nil {
			return b, stream, nil
		}
		err = fmt.Errorf("%s: %w", b.Name(), err)
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, err
		}
		errs = append(errs, err)
	}
	return nil, nil, fmt.Errorf("%w: %w", ErrNoBackendAvailable, errors.Join(errs...))
}

func preferFirst(backends []Backend, preferred string) ([]Backend, error) {
	if len(backends) == 0 {
		return nil, errors.New("no backends configured")
	}
	if preferred == "" || preferred == "auto" {
		return backends, nil
	}

	i := slices.IndexFunc(backends, func(b Backend) bool { return b.Name() == preferred })
	if i < 0 {
		return nil, fmt.Errorf("unknown backend %q", preferred)
	}
	ordered := append([]Backend{backends[i]}, backends[:i]...)
	return append(ordered, backends[i+1:]...), nil
}

func defaultSampleRate(value int) int {
	if value <= 0 {
		return DefaultSampleRate
	}
	return value
}

func defaultChannels(value int) int {
	if value <= 0 {
		return DefaultChannels
	}
	return value
}
