// Package clipboard puts dictated text on the system clipboard.
package clipboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"time"

	atotto "github.com/atotto/clipboard"
)

var ErrUnavailable = errors.New("no clipboard command available")

const copyTimeout = 4 * time.Second

// tool is an external clipboard writer fed through stdin. xclip forks to
// keep serving the selection, so it is started and released rather than
// waited on.
type tool struct {
	name     string
	args     []string
	detached bool
}

var toolsByOS = map[string][]tool{
	"darwin": {{name: "pbcopy"}},
	"linux": {
		{name: "wl-copy"},
		{name: "xclip", args: []string{"-selection", "clipboard", "-in", "-silent"}, detached: true},
	},
	"windows": nil,
}

// Hooks replaced in tests.
var (
	lookPath        = exec.LookPath
	nativeWrite     = atotto.WriteAll
	nativeSupported = func() bool { return !atotto.Unsupported }
)

// CopyText writes value to the clipboard using the first installed tool for
// the running OS, falling back to the native clipboard API when none is.
func CopyText(ctx context.Context, value string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	t, err := pickTool(runtime.GOOS)
	switch {
	case errors.Is(err, ErrUnavailable):
		return writeNative(value)
	case err != nil:
		return err
	case t.detached:
		return t.spawn(value)
	default:
		return t.run(ctx, value)
	}
}

func pickTool(goos string) (tool, error) {
	candidates, known := toolsByOS[goos]
	if !known {
		// BSDs and friends usually ship the X11 tools.
		candidates = toolsByOS["linux"]
	}
	for _, t := range candidates {
		if _, err := lookPath(t.name); err == nil {
			return t, nil
		}
	}
	return tool{}, ErrUnavailable
}

func writeNative(value string) error {
	if !nativeSupported() {
		return ErrUnavailable
	}
	if err := nativeWrite(value); err != nil {
		return fmt.Errorf("copy to clipboard: %w", err)
	}
	return nil
}

func (t tool) run(ctx context.Context, value string) error {
	runCtx, cancel := context.WithTimeout(ctx, copyTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, t.name, t.args...)
	cmd.Stdin = strings.NewReader(value)
	cmd.Stdout, cmd.Stderr = io.Discard, io.Discard

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out after %s: %w", t.name, copyTimeout, runCtx.Err())
	}
	return fmt.Errorf("copy to clipboard via %s: %w", t.name, err)
}

func (t tool) spawn(value string) (err error) {
	cmd := exec.Command(t.name, t.args...)
	cmd.Stdout, cmd.Stderr = io.Discard, io.Discard

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open %s stdin: %w", t.name, err)
	}
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start %s: %w", t.name, err)
	}
	defer func() {
		if err != nil {
			_ = cmd.Process.Kill()
			return
		}
		_ = cmd.Process.Release()
	}()

	if _, err := io.WriteString(stdin, value); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("write to %s: %w", t.name, err)
	}
	if err := stdin.Close(); err != nil {
		return fmt.Errorf("close %s stdin: %w", t.name, err)
	}
	return nil
}
