package hotkey

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

var ErrNotTerminal = errors.New("stdin is not a terminal")

// TerminalSource fires on every Enter read from In.
type TerminalSource struct {
	In io.Reader
}

// NewTerminalSource requires f to be an interactive terminal.
func NewTerminalSource(f *os.File) (*TerminalSource, error) {
	if f == nil || !term.IsTerminal(int(f.Fd())) {
		return nil, ErrNotTerminal
	}
	return &TerminalSource{In: f}, nil
}

func (s *TerminalSource) Name() string { return "terminal" }

func (s *TerminalSource) Run(ctx context.Context, fire func()) error {
	lines := make(chan struct{})
	errs := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(s.In)
		for scanner.Scan() {
			select {
			case lines <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
		errs <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-lines:
			fire()
		case err := <-errs:
			if err != nil {
				return fmt.Errorf("read terminal: %w", err)
			}
			return nil
		}
	}
}
