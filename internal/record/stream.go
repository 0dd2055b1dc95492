package record

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// 100 ms of 16 kHz mono s16le.
	chunkBytes = 3200

	startupGrace = 150 * time.Millisecond
	stopTimeout  = 2 * time.Second
)

var errExitedDuringStartup = errors.New("capture process exited during startup")

// commandStream runs a capture tool that writes raw s16le PCM to stdout.
type commandStream struct {
	name   string
	cmd    *exec.Cmd
	done   chan error
	logger *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

func startCommandStream(ctx context.Context, name string, args []string, cfg Config, onFrames func([]int16)) (Stream, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("backend", name))

	cmd := exec.CommandContext(ctx, name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%s stdout: %w", name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%s stderr: %w", name, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	s := &commandStream{name: name, cmd: cmd, done: make(chan error, 1), logger: logger}

	// Wait closes the pipes, so it must only run after both readers drain.
	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		pumpPCM(stdout, onFrames)
	}()
	go func() {
		defer readers.Done()
		logStatusLines(stderr, logger)
	}()
	go func() {
		readers.Wait()
		s.done <- cmd.Wait()
	}()

	timer := time.NewTimer(startupGrace)
	defer timer.Stop()
	select {
	case err := <-s.done:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err == nil {
			return nil, errExitedDuringStartup
		}
		return nil, fmt.Errorf("%w: %v", errExitedDuringStartup, err)
	case <-timer.C:
	}

	logger.Debug("capture stream started", zap.Strings("args", args))
	return s, nil
}

func (s *commandStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.stop()
	})
	return s.closeErr
}

func (s *commandStream) stop() error {
	interrupted := s.cmd.Process.Signal(os.Interrupt) == nil
	if !interrupted {
		_ = s.cmd.Process.Kill()
	}

	timer := time.NewTimer(stopTimeout)
	defer timer.Stop()

	select {
	case err := <-s.done:
		if err == nil {
			return nil
		}
		if interrupted {
			s.logger.Debug("capture process exited after stop signal", zap.Error(err))
			return nil
		}
		return fmt.Errorf("%s: %w", s.name, err)
	case <-timer.C:
		s.logger.Warn("capture process ignored stop signal, killing")
		_ = s.cmd.Process.Kill()
		<-s.done
		return nil
	}
}

func pumpPCM(r io.Reader, onFrames func([]int16)) {
	buf := make([]byte, chunkBytes)
	for {
		n, err := io.ReadFull(r, buf)
		if even := n &^ 1; even > 0 {
			onFrames(decodeS16LE(buf[:even]))
		}
		if err != nil {
			return
		}
	}
}

func decodeS16LE(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return samples
}

func logStatusLines(r io.Reader, logger *zap.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		logger.Warn("capture backend status", zap.String("line", line))
	}
}
