package record

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommandBackendsByOS(t *testing.T) {
	t.Parallel()

	names := func(goos string) []string {
		var out []string
		for _, b := range commandBackends(goos) {
			out = append(out, b.Name())
		}
		return out
	}
	require.Equal(t, []string{"pw-record", "arecord", "ffmpeg"}, names("linux"))
	require.Equal(t, []string{"ffmpeg"}, names("darwin"))
	require.Empty(t, names("plan9"))
}

func TestFFMPEGArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		goos string
		cfg  Config
		want [][]string
	}{
		{
			name: "avfoundation defaults to first device",
			goos: "darwin",
			want: [][]string{ffmpegArgs("avfoundation", ":0", Config{})},
		},
		{
			name: "linux tries pulse then alsa",
			goos: "linux",
			want: [][]string{ffmpegArgs("pulse", "default", Config{}), ffmpegArgs("alsa", "default", Config{})},
		},
		{
			name: "pinned format",
			goos: "linux",
			cfg:  Config{Format: "alsa", Input: "hw:1,0"},
			want: [][]string{ffmpegArgs("alsa", "hw:1,0", Config{})},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, ffmpegRecorder(tt.goos).argv(tt.cfg))
		})
	}

	require.Equal(t, []string{
		"-nostdin", "-hide_banner", "-loglevel", "error",
		"-f", "pulse", "-i", "alsa_input.usb",
		"-ac", "2", "-ar", "48000",
		"-f", "s16le", "-",
	}, ffmpegArgs("pulse", "alsa_input.usb", Config{SampleRate: 48000, Channels: 2}))
}

func TestListAVFoundation(t *testing.T) {
	tests := []struct {
		name    string
		stub    string
		want    string
		wantErr string
	}{
		{
			name: "listing on failed exit",
			stub: "#!/bin/sh\n>&2 echo '[AVFoundation indev] [0] MacBook Pro Microphone'\nexit 1\n",
			want: "MacBook Pro Microphone",
		},
		{
			name:    "no output",
			stub:    "#!/bin/sh\nexit 1\n",
			wantErr: "no device output",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "ffmpeg"), []byte(tt.stub), 0o755))
			t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))

			out, err := listAVFoundation(context.Background())
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Contains(t, out, tt.want)
		})
	}
}

func TestCommandOutputFoldsOutputIntoError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "arecord"), []byte("#!/bin/sh\necho 'no soundcards'\nexit 2\n"), 0o755))
	t.Setenv("PATH", dir)

	_, err := commandOutput(context.Background(), "arecord", "-L")
	require.ErrorContains(t, err, "arecord -L failed")
	require.ErrorContains(t, err, "(no soundcards)")
}
