package clipboard

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

func stubLookPath(t *testing.T, installed ...string) {
	t.Helper()
	prev := lookPath
	t.Cleanup(func() { lookPath = prev })

	lookPath = func(name string) (string, error) {
		if slices.Contains(installed, name) {
			return "/usr/bin/" + name, nil
		}
		return "", exec.ErrNotFound
	}
}

func stubNative(t *testing.T, supported bool, write func(string) error) {
	t.Helper()
	prevWrite, prevSupported := nativeWrite, nativeSupported
	t.Cleanup(func() {
		nativeWrite = prevWrite
		nativeSupported = prevSupported
	})
	nativeWrite = write
	nativeSupported = func() bool { return supported }
}

func TestPickTool(t *testing.T) {
	tests := []struct {
		name      string
		goos      string
		installed []string
		want      string
		detached  bool
	}{
		{name: "wayland first", goos: "linux", installed: []string{"xclip", "wl-copy"}, want: "wl-copy"},
		{name: "x11 fallback", goos: "linux", installed: []string{"xclip"}, want: "xclip", detached: true},
		{name: "linux without tools", goos: "linux"},
		{name: "pbcopy", goos: "darwin", installed: []string{"pbcopy", "xclip"}, want: "pbcopy"},
		{name: "darwin ignores x11", goos: "darwin", installed: []string{"xclip"}},
		{name: "windows is native only", goos: "windows", installed: []string{"wl-copy", "pbcopy"}},
		{name: "bsd uses x11 tools", goos: "freebsd", installed: []string{"xclip"}, want: "xclip", detached: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubLookPath(t, tt.installed...)

			got, err := pickTool(tt.goos)
			if tt.want == "" {
				require.ErrorIs(t, err, ErrUnavailable)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got.name)
			require.Equal(t, tt.detached, got.detached)
		})
	}
}

func TestXclipKeepsSelectionFlags(t *testing.T) {
	stubLookPath(t, "xclip")

	got, err := pickTool("linux")
	require.NoError(t, err)
	require.Equal(t, []string{"-selection", "clipboard", "-in", "-silent"}, got.args)
}

func TestCopyTextNativeFallback(t *testing.T) {
	tests := []struct {
		name      string
		supported bool
		writeErr  error
		wantErr   string
		wantIs    error
	}{
		{name: "writes", supported: true},
		{name: "unsupported platform", wantIs: ErrUnavailable},
		{name: "write fails", supported: true, writeErr: errors.New("no display"), wantErr: "copy to clipboard: no display"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubLookPath(t)
			var got string
			stubNative(t, tt.supported, func(text string) error {
				got = text
				return tt.writeErr
			})

			err := CopyText(context.Background(), "hello")
			switch {
			case tt.wantIs != nil:
				require.ErrorIs(t, err, tt.wantIs)
			case tt.wantErr != "":
				require.EqualError(t, err, tt.wantErr)
			default:
				require.NoError(t, err)
				require.Equal(t, "hello", got)
			}
		})
	}
}

func TestCopyTextPipesIntoTool(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("wl-copy stub is linux only")
	}

	dir := t.TempDir()
	out := filepath.Join(dir, "clipboard.txt")
	script := "#!/bin/sh\n/bin/cat > \"" + out + "\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wl-copy"), []byte(script), 0o755))
	t.Setenv("PATH", dir)

	require.NoError(t, CopyText(context.Background(), "dictated text"))

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "dictated text", string(raw))
}

func TestCopyTextReportsToolFailure(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("wl-copy stub is linux only")
	}

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wl-copy"), []byte("#!/bin/sh\nexit 1\n"), 0o755))
	t.Setenv("PATH", dir)

	require.ErrorContains(t, CopyText(context.Background(), "x"), "via wl-copy")
}
