//go:build portaudio

package record

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"
)

const portaudioFramesPerBuffer = 1024

func init() {
	optionalBackends = append(optionalBackends, func() Backend { return &portaudioBackend{} })
}

type portaudioBackend struct{}

func (b *portaudioBackend) Name() string {
	return "portaudio"
}

func (b *portaudioBackend) Available() bool {
	return true
}

type portaudioStream struct {
	stream *portaudio.Stream
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
	err    error
}

func (b *portaudioBackend) Open(_ context.Context, cfg Config, onFrames func([]int16)) (Stream, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init failed: %w", err)
	}

	channels := defaultChannels(cfg.Channels)
	in := make([]int16, portaudioFramesPerBuffer*channels)
	stream, err := portaudio.OpenDefaultStream(channels, 0, float64(defaultSampleRate(cfg.SampleRate)), portaudioFramesPerBuffer, in)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open stream failed: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("start stream failed: %w", err)
	}

	s := &portaudioStream{stream: stream, stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(s.done)
		for {
			select {
			case <-s.stop:
				return
			default:
			}

			if err := stream.Read(); err != nil {
				if errors.Is(err, portaudio.InputOverflowed) {
					logger.Warn("capture backend status", zap.String("backend", "portaudio"), zap.String("line", "input overflowed"))
					continue
				}
				logger.Warn("capture stream read failed", zap.String("backend", "portaudio"), zap.Error(err))
				return
			}
			frames := make([]int16, len(in))
			copy(frames, in)
			onFrames(frames)
		}
	}()

	return s, nil
}

func (s *portaudioStream) Close() error {
	s.once.Do(func() {
		close(s.stop)
		<-s.done
		var errs []error
		if err := s.stream.Stop(); err != nil {
			errs = append(errs, err)
		}
		if err := s.stream.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := portaudio.Terminate(); err != nil {
			errs = append(errs, err)
		}
		s.err = errors.Join(errs...)
	})
	return s.err
}

func (b *portaudioBackend) ListDevices(context.Context) (string, error) {
	if err := portaudio.Initialize(); err != nil {
		return "", fmt.Errorf("portaudio init failed: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return "", err
	}

	var lines []string
	for i, device := range devices {
		if device.MaxInputChannels == 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("[%d] %s (%d ch, %.0f Hz)", i, device.Name, device.MaxInputChannels, device.DefaultSampleRate))
	}
	if len(lines) == 0 {
		return "", errors.New("no portaudio input devices")
	}
	return strings.Join(lines, "\n"), nil
}
