package whisper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/fmueller/voxpush/internal/platform"
)

const enginePathEnv = "VOXPUSH_WHISPER_PATH"

// CLIEngine runs whisper.cpp's whisper-cli once per transcription.
type CLIEngine struct {
	Executable string
	Logger     *zap.Logger
}

// LocateEngine finds whisper-cli, checking the VOXPUSH_WHISPER_PATH override,
// then the install layouts next to the running binary, then PATH.
func LocateEngine(logger *zap.Logger) (*CLIEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if override := strings.TrimSpace(os.Getenv(enginePathEnv)); override != "" {
		if err := checkExecutable(override); err != nil {
			return nil, fmt.Errorf("%s: %w", enginePathEnv, err)
		}
		return &CLIEngine{Executable: override, Logger: logger}, nil
	}

	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve own executable: %w", err)
	}
	if found, ok := findNextTo(self); ok {
		return &CLIEngine{Executable: found, Logger: logger}, nil
	}
	if found, err := exec.LookPath(engineBinary()); err == nil {
		return &CLIEngine{Executable: found, Logger: logger}, nil
	}
	return nil, fmt.Errorf("%s not found near %s or on PATH; install whisper.cpp or set %s", engineBinary(), self, enginePathEnv)
}

// searchPath lists where release archives and local builds put whisper-cli
// relative to the voxpush binary, most specific first.
func searchPath(self string) []string {
	dir := filepath.Dir(self)
	bin := engineBinary()
	target := runtime.GOOS + "_" + platform.NormalizeArch(runtime.GOARCH)
	return []string{
		filepath.Join(dir, "..", "libexec", "whisper", bin),
		filepath.Join(dir, "libexec", "whisper", bin),
		filepath.Join(dir, "packaging", "whisper", target, bin),
		filepath.Join(dir, bin),
	}
}

func findNextTo(self string) (string, bool) {
	i := slices.IndexFunc(searchPath(self), func(p string) bool { return checkExecutable(p) == nil })
	if i < 0 {
		return "", false
	}
	return searchPath(self)[i], true
}

func (e *CLIEngine) Run(ctx context.Context, req Request) (string, error) {
	switch {
	case strings.TrimSpace(req.AudioPath) == "":
		return "", errors.New("audio path is required")
	case strings.TrimSpace(req.ModelPath) == "":
		return "", errors.New("model path is required")
	}
	if err := checkExecutable(e.Executable); err != nil {
		return "", fmt.Errorf("whisper engine unusable: %w", err)
	}

	outDir, err := os.MkdirTemp("", "voxpush-whisper-")
	if err != nil {
		return "", fmt.Errorf("create engine output dir: %w", err)
	}
	defer os.RemoveAll(outDir)
	outBase := filepath.Join(outDir, "transcript")

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.Executable, engineArgs(req, outBase)...)
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	logger := e.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("running whisper engine", zap.String("engine", e.Executable), zap.Strings("args", cmd.Args[1:]))

	if err := cmd.Run(); err != nil {
		return "", e.explain(err, strings.TrimSpace(stderr.String()))
	}

	text, err := os.ReadFile(outBase + ".txt")
	if err != nil {
		return "", fmt.Errorf("read whisper output: %w", err)
	}
	return string(text), nil
}

func engineArgs(req Request, outBase string) []string {
	args := []string{"-m", req.ModelPath, "-f", req.AudioPath, "-nt", "-otxt", "-of", outBase}

	if lang := strings.TrimSpace(req.Language); lang != "" && lang != "auto" {
		args = append(args, "-l", lang)
	}
	if req.Task == "translate" {
		args = append(args, "-tr")
	}
	if req.Device == DeviceCPU {
		args = append(args, "-ng")
	}
	return args
}

type failureHint struct {
	markers []string
	hint    string
}

var failureHints = []failureHint{
	{
		markers: []string{"error while loading shared libraries", "cannot open shared object file", "dyld: library not loaded", "image not found"},
		hint:    "is missing shared libraries; rebuild whisper-cli with BUILD_SHARED_LIBS=OFF",
	},
	{
		markers: []string{"illegal instruction"},
		hint:    "hit an instruction your CPU lacks; point " + enginePathEnv + " at a build for this machine",
	},
}

// explain turns a failed run into an error, adding a remedy for crashes that
// come from a mismatched build rather than bad input.
func (e *CLIEngine) explain(runErr error, stderr string) error {
	if hint := diagnose(stderr + "\n" + runErr.Error()); hint != "" {
		return fmt.Errorf("whisper engine at %s %s: %w (%s)", e.Executable, hint, runErr, stderr)
	}
	if stderr == "" {
		return fmt.Errorf("whisper transcribe failed: %w", runErr)
	}
	return fmt.Errorf("whisper transcribe failed: %w (%s)", runErr, stderr)
}

func diagnose(output string) string {
	output = strings.ToLower(output)
	for _, h := range failureHints {
		for _, m := range h.markers {
			if strings.Contains(output, m) {
				return h.hint
			}
		}
	}
	return ""
}

func engineBinary() string {
	if runtime.GOOS == "windows" {
		return "whisper-cli.exe"
	}
	return "whisper-cli"
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	switch {
	case err != nil:
		return err
	case info.IsDir():
		return fmt.Errorf("%s is a directory", path)
	case runtime.GOOS != "windows" && info.Mode()&0o111 == 0:
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}
