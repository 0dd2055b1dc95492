package record

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// commandBackend captures by running a recorder binary that writes raw
// s16le PCM to stdout. The binary doubles as the backend name.
type commandBackend struct {
	name string
	// argv returns one or more argument lists, tried in order until one starts.
	argv func(cfg Config) [][]string
	list func(ctx context.Context) (string, error)
}

func commandBackends(goos string) []Backend {
	switch goos {
	case "linux":
		return []Backend{pipewireRecorder(), alsaRecorder(), ffmpegRecorder("linux")}
	case "darwin":
		return []Backend{ffmpegRecorder("darwin")}
	default:
		return nil
	}
}

func (b *commandBackend) Name() string { return b.name }

func (b *commandBackend) Available() bool { return commandAvailable(b.name) }

func (b *commandBackend) ListDevices(ctx context.Context) (string, error) {
	return b.list(ctx)
}

func (b *commandBackend) Open(ctx context.Context, cfg Config, onFrames func([]int16)) (Stream, error) {
	attempts := b.argv(cfg)
	if len(attempts) == 1 {
		return startCommandStream(ctx, b.name, attempts[0], cfg, onFrames)
	}

	var errs []error
	for _, args := range attempts {
		stream, err := startCommandStream(ctx, b.name, args, cfg, onFrames)
		if err == nil {
			return stream, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		errs = append(errs, fmt.Errorf("%s %s: %w", b.name, strings.Join(args, " "), err))
	}
	return nil, errors.Join(errs...)
}

func pipewireRecorder() *commandBackend {
	return &commandBackend{
		name: "pw-record",
		argv: func(cfg Config) [][]string {
			args := []string{
				"--rate", strconv.Itoa(defaultSampleRate(cfg.SampleRate)),
				"--channels", strconv.Itoa(defaultChannels(cfg.Channels)),
				"--format", "s16",
			}
			if cfg.Input != "" {
				args = append(args, "--target", cfg.Input)
			}
			return [][]string{append(args, "-")}
		},
		list: func(ctx context.Context) (string, error) {
			if commandAvailable("pw-cli") {
				return commandOutput(ctx, "pw-cli", "ls", "Node")
			}
			if out, err := commandOutput(ctx, "pw-record", "--list-targets"); err == nil {
				return out, nil
			}
			if commandAvailable("pactl") {
				return commandOutput(ctx, "pactl", "list", "short", "sources")
			}
			return "", errors.New("no pipewire device listing command available")
		},
	}
}

func alsaRecorder() *commandBackend {
	return &commandBackend{
		name: "arecord",
		argv: func(cfg Config) [][]string {
			args := []string{
				"-q", "-t", "raw", "-f", "S16_LE",
				"-r", strconv.Itoa(defaultSampleRate(cfg.SampleRate)),
				"-c", strconv.Itoa(defaultChannels(cfg.Channels)),
			}
			if cfg.Input != "" {
				args = append(args, "-D", cfg.Input)
			}
			return [][]string{args}
		},
		list: func(ctx context.Context) (string, error) {
			return commandOutput(ctx, "arecord", "-L")
		},
	}
}

// ffmpegRecorder reads avfoundation on macOS. On Linux it tries PulseAudio
// and then ALSA unless cfg.Format pins the input format.
func ffmpegRecorder(goos string) *commandBackend {
	b := &commandBackend{name: "ffmpeg"}
	if goos == "darwin" {
		b.argv = func(cfg Config) [][]string {
			return [][]string{ffmpegArgs("avfoundation", cmpOr(cfg.Input, ":0"), cfg)}
		}
		b.list = listAVFoundation
		return b
	}

	b.argv = func(cfg Config) [][]string {
		if cfg.Format != "" {
			return [][]string{ffmpegArgs(cfg.Format, cmpOr(cfg.Input, "default"), cfg)}
		}
		return [][]string{
			ffmpegArgs("pulse", "default", cfg),
			ffmpegArgs("alsa", "default", cfg),
		}
	}
	b.list = listLinuxSources
	return b
}

func ffmpegArgs(format, input string, cfg Config) []string {
	return []string{
		"-nostdin", "-hide_banner", "-loglevel", "error",
		"-f", format, "-i", input,
		"-ac", strconv.Itoa(defaultChannels(cfg.Channels)),
		"-ar", strconv.Itoa(defaultSampleRate(cfg.SampleRate)),
		"-f", "s16le", "-",
	}
}

// listAVFoundation keeps ffmpeg's output on a non-zero exit: the dummy empty
// input always fails after the devices are printed.
func listAVFoundation(ctx context.Context) (string, error) {
	out, _ := exec.CommandContext(ctx, "ffmpeg", "-hide_banner", "-f", "avfoundation", "-list_devices", "true", "-i", "").CombinedOutput()
	if listing := strings.TrimSpace(string(out)); listing != "" {
		return listing, nil
	}
	return "", errors.New("ffmpeg returned no device output")
}

func listLinuxSources(ctx context.Context) (string, error) {
	sections := []struct {
		title string
		name  string
		args  []string
	}{
		{"PulseAudio/PipeWire sources", "pactl", []string{"list", "short", "sources"}},
		{"ALSA devices", "arecord", []string{"-L"}},
	}

	var parts []string
	for _, s := range sections {
		if !commandAvailable(s.name) {
			continue
		}
		out, err := commandOutput(ctx, s.name, s.args...)
		if err != nil {
			parts = append(parts, s.title+": "+err.Error())
			continue
		}
		parts = append(parts, s.title+":\n"+out)
	}
	if len(parts) == 0 {
		return "", errors.New("no device listing command available")
	}
	return strings.Join(parts, "\n\n"), nil
}

func commandAvailable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// commandOutput runs name and returns its trimmed combined output. On failure
// the output is folded into the error.
func commandOutput(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	trimmed := strings.TrimSpace(string(out))
	if err == nil {
		return trimmed, nil
	}
	cmdline := strings.TrimSpace(name + " " + strings.Join(args, " "))
	if trimmed == "" {
		return "", fmt.Errorf("%s failed: %w", cmdline, err)
	}
	return "", fmt.Errorf("%s failed: %w (%s)", cmdline, err, trimmed)
}

func cmpOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
