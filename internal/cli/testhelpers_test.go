package cli

import (
	"bytes"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fmueller/voxpush/internal/audio"
	"github.com/fmueller/voxpush/internal/platform"
)

// testApp resolves every directory under a fresh temp dir so commands never
// touch the real user configuration.
func testApp(t *testing.T) *appState {
	t.Helper()
	root := t.TempDir()
	app := newAppState()
	app.resolveDirs = func() (platform.Dirs, error) {
		return platform.Dirs{
			Data:        filepath.Join(root, "data"),
			Config:      filepath.Join(root, "config"),
			Models:      filepath.Join(root, "data", "models"),
			Transcripts: filepath.Join(root, "data", "transcripts"),
			Logs:        filepath.Join(root, "data", "logs"),
		}, nil
	}
	return app
}

func runCommand(t *testing.T, args []string) (stdout string, stderr string, err error) {
	t.Helper()
	return runApp(t, testApp(t), args)
}

func runApp(t *testing.T, app *appState, args []string) (stdout string, stderr string, err error) {
	t.Helper()

	cmd := newRootCmd(app)
	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	cmd.SetOut(outBuf)
	cmd.SetErr(errBuf)
	cmd.SetArgs(args)

	err = cmd.Execute()
	return outBuf.String(), errBuf.String(), err
}

// serviceFlags points the API client at srv.
func serviceFlags(t *testing.T, srv *httptest.Server) []string {
	t.Helper()
	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	return []string{"--host", host, "--port", port}
}

// writeClip writes n frames of mono 16 kHz silence and returns the file bytes.
func writeClip(t *testing.T, path string, frames int) []byte {
	t.Helper()
	require.NoError(t, audio.WriteWAV(path, audio.Clip{Samples: make([]int16, frames), SampleRate: 16000, Channels: 1}))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return raw
}
