package record

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type frameSink struct {
	mu      sync.Mutex
	samples []int16
}

func (s *frameSink) add(frames []int16) {
	s.mu.Lock()
	s.samples = append(s.samples, frames...)
	s.mu.Unlock()
}

func (s *frameSink) snapshot() []int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int16(nil), s.samples...)
}

// writeStub installs an executable named name on PATH. The script records its
// arguments, emits two samples and a status line, then runs until interrupted.
func writeStub(t *testing.T, name string, ignoreInterrupt bool) (string, string) {
	t.Helper()

	tempDir := t.TempDir()
	argsFile := filepath.Join(tempDir, "args.txt")

	trap := "trap 'exit 0' INT"
	if ignoreInterrupt {
		trap = "trap '' INT"
	}

	stub := "#!/bin/sh\nset -eu\nprintf '%s\\n' \"$@\" > \"$ARGS_FILE\"\n" + trap + "\n" +
		"printf '\\001\\000\\002\\000'\n" +
		">&2 echo 'overrun!!!'\n" +
		"while :; do sleep 0.02; done\n"
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, name), []byte(stub), 0o755))

	t.Setenv("PATH", tempDir+":"+os.Getenv("PATH"))
	t.Setenv("ARGS_FILE", argsFile)
	return tempDir, argsFile
}

func TestPipeWireStreamsRawPCM(t *testing.T) {
	_, argsFile := writeStub(t, "pw-record", false)

	core, logs := observer.New(zapcore.WarnLevel)
	backend := pipewireRecorder()
	require.True(t, backend.Available())

	sink := &frameSink{}
	stream, err := backend.Open(context.Background(), Config{Logger: zap.New(core)}, sink.add)
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	require.Equal(t, []int16{1, 2}, sink.snapshot())
	require.Equal(t, 1, logs.FilterMessage("capture backend status").Len())

	argsRaw, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	args := string(argsRaw)
	require.Contains(t, args, "--rate\n16000\n")
	require.Contains(t, args, "--format\ns16\n")
	require.NotContains(t, args, "--target")
}

func TestPipeWireInputPassesTarget(t *testing.T) {
	_, argsFile := writeStub(t, "pw-record", false)

	stream, err := pipewireRecorder().Open(context.Background(), Config{Input: "42"}, func([]int16) {})
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	argsRaw, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	require.Contains(t, string(argsRaw), "--target\n42\n")
}

func TestArecordInputPassesDevice(t *testing.T) {
	_, argsFile := writeStub(t, "arecord", false)

	stream, err := alsaRecorder().Open(context.Background(), Config{Input: "hw:1,0"}, func([]int16) {})
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	argsRaw, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	args := string(argsRaw)
	require.Contains(t, args, "-D\nhw:1,0\n")
	require.Contains(t, args, "-t\nraw\n")
}

func TestFFMPEGLinuxWritesRawToStdout(t *testing.T) {
	_, argsFile := writeStub(t, "ffmpeg", false)

	sink := &frameSink{}
	stream, err := ffmpegRecorder("linux").Open(context.Background(), Config{}, sink.add)
	require.NoError(t, err)
	require.NoError(t, stream.Close())
	require.Equal(t, []int16{1, 2}, sink.snapshot())

	argsRaw, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	args := string(argsRaw)
	require.Contains(t, args, "-f\npulse\n")
	require.Contains(t, args, "-f\ns16le\n-\n")
}

func TestStreamStartupExitIsAnError(t *testing.T) {
	tempDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "arecord"), []byte("#!/bin/sh\n>&2 echo 'no such device'\nexit 1\n"), 0o755))
	t.Setenv("PATH", tempDir+":"+os.Getenv("PATH"))

	_, err := alsaRecorder().Open(context.Background(), Config{}, func([]int16) {})
	require.ErrorIs(t, err, errExitedDuringStartup)
}

func TestStreamCloseKillsWhenInterruptIgnored(t *testing.T) {
	writeStub(t, "arecord", true)

	stream, err := alsaRecorder().Open(context.Background(), Config{}, func([]int16) {})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, stream.Close())
	require.Less(t, time.Since(start), stopTimeout+time.Second)
	require.NoError(t, stream.Close())
}

func TestDecodeS16LE(t *testing.T) {
	t.Parallel()

	require.Equal(t, []int16{1, -1, 256}, decodeS16LE([]byte{0x01, 0x00, 0xff, 0xff, 0x00, 0x01}))
}
