package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const appName = "voxpush"

// Dirs collects every location voxpush reads from or writes to.
type Dirs struct {
	Data        string
	Config      string
	Models      string
	Transcripts string
	Logs        string
}

// Env carries the environment inputs used to derive Dirs, so the mapping can
// be tested for any OS.
type Env struct {
	GOOS          string
	Home          string
	XDGDataHome   string
	XDGConfigHome string
	AppData       string
}

func NormalizeArch(arch string) string {
	switch arch {
	case "x86_64":
		return "amd64"
	case "aarch64":
		return "arm64"
	default:
		return arch
	}
}

func CurrentEnv() (Env, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return Env{}, fmt.Errorf("resolve user home: %w", err)
	}
	return Env{
		GOOS:          runtime.GOOS,
		Home:          homeDir,
		XDGDataHome:   os.Getenv("XDG_DATA_HOME"),
		XDGConfigHome: os.Getenv("XDG_CONFIG_HOME"),
		AppData:       os.Getenv("APPDATA"),
	}, nil
}

func DirsFor(env Env) (Dirs, error) {
	data, err := dataDirFor(env)
	if err != nil {
		return Dirs{}, err
	}
	config, err := configDirFor(env)
	if err != nil {
		return Dirs{}, err
	}

	return Dirs{
		Data:        data,
		Config:      config,
		Models:      filepath.Join(data, "models"),
		Transcripts: filepath.Join(data, "transcripts"),
		Logs:        filepath.Join(data, "logs"),
	}, nil
}

func ResolveDirs() (Dirs, error) {
	env, err := CurrentEnv()
	if err != nil {
		return Dirs{}, err
	}
	return DirsFor(env)
}

// CaptureArtifactPath is the single-slot location of the most recent capture.
// Every cycle overwrites it.
func CaptureArtifactPath() string {
	return filepath.Join(os.TempDir(), appName+"_capture.wav")
}

func dataDirFor(env Env) (string, error) {
	if env.Home == "" {
		return "", errors.New("home directory is empty")
	}

	switch env.GOOS {
	case "linux":
		if env.XDGDataHome != "" {
			return filepath.Join(env.XDGDataHome, appName), nil
		}
		return filepath.Join(env.Home, ".local", "share", appName), nil
	case "darwin":
		return filepath.Join(env.Home, "Library", "Application Support", appName), nil
	case "windows":
		if env.AppData != "" {
			return filepath.Join(env.AppData, appName), nil
		}
		return filepath.Join(env.Home, "AppData", "Roaming", appName), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s", env.GOOS)
	}
}

func configDirFor(env Env) (string, error) {
	switch env.GOOS {
	case "linux":
		if env.Home == "" {
			return "", errors.New("home directory is empty")
		}
		if env.XDGConfigHome != "" {
			return filepath.Join(env.XDGConfigHome, appName), nil
		}
		return filepath.Join(env.Home, ".config", appName), nil
	default:
		return dataDirFor(env)
	}
}
