// Package config loads voxpush settings from config.yml, a .env file and
// VOXPUSH_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/fmueller/voxpush/internal/platform"
)

const EnvPrefix = "VOXPUSH"

type Settings struct {
	Server      ServerSettings     `mapstructure:"server"`
	Model       ModelSettings      `mapstructure:"model"`
	Format      FormatSettings     `mapstructure:"format"`
	Delivery    DeliverySettings   `mapstructure:"delivery"`
	Capture     CaptureSettings    `mapstructure:"capture"`
	Hotkey      string             `mapstructure:"hotkey"`
	UI          UISettings         `mapstructure:"ui"`
	Transcripts TranscriptSettings `mapstructure:"transcripts"`
	History     HistorySettings    `mapstructure:"history"`
	Silence     SilenceSettings    `mapstructure:"silence"`
	Log         LogSettings        `mapstructure:"log"`
}

type ServerSettings struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type ModelSettings struct {
	Name          string        `mapstructure:"name"`
	Device        string        `mapstructure:"device"`
	Dir           string        `mapstructure:"dir"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type FormatSettings struct {
	ConfigPath string        `mapstructure:"config_path"`
	Default    string        `mapstructure:"default"`
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type DeliverySettings struct {
	AutoPaste  bool          `mapstructure:"auto_paste"`
	PasteDelay time.Duration `mapstructure:"paste_delay"`
	CopyEmpty  bool          `mapstructure:"copy_empty"`
}

type CaptureSettings struct {
	Backend string `mapstructure:"backend"`
	Input   string `mapstructure:"input"`
	Format  string `mapstructure:"format"`
}

type UISettings struct {
	Mode   string   `mapstructure:"mode"`
	Themes []string `mapstructure:"themes"`
	Theme  string   `mapstructure:"theme"`
}

type TranscriptSettings struct {
	Save bool   `mapstructure:"save"`
	Dir  string `mapstructure:"dir"`
}

type HistorySettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type SilenceSettings struct {
	Gate          bool    `mapstructure:"gate"`
	ThresholdDBFS float64 `mapstructure:"threshold_dbfs"`
}

type LogSettings struct {
	Verbose bool `mapstructure:"verbose"`
	JSON    bool `mapstructure:"json"`
}

type Options struct {
	// ConfigFile must exist when set. Otherwise <Dirs.Config>/config.yml is
	// read if present.
	ConfigFile string
	// EnvFile must exist when set. Otherwise ./.env is read if present.
	EnvFile string
	Dirs    platform.Dirs
	// Overrides win over every other source, e.g. changed command-line flags.
	// Values are decoded like environment variables.
	Overrides map[string]string
}

// Load resolves the settings. The returned path is the config file that was
// read, or "" when defaults and the environment were enough.
func Load(opts Options) (Settings, string, error) {
	v := viper.New()
	setDefaults(v, opts.Dirs)

	configFile := opts.ConfigFile
	if configFile == "" && opts.Dirs.Config != "" {
		candidate := filepath.Join(opts.Dirs.Config, "config.yml")
		if fileExists(candidate) {
			configFile = candidate
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, "", fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	envFile := opts.EnvFile
	if envFile == "" && fileExists(".env") {
		envFile = ".env"
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Settings{}, "", fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, "", fmt.Errorf("decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, "", err
	}
	return s, configFile, nil
}

func setDefaults(v *viper.Viper, dirs platform.Dirs) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 5000)

	v.SetDefault("model.name", "small.en")
	v.SetDefault("model.device", "cpu")
	v.SetDefault("model.dir", dirs.Models)
	v.SetDefault("model.idle_timeout", 300*time.Second)
	v.SetDefault("model.sweep_interval", 30*time.Second)

	v.SetDefault("format.config_path", joinIfSet(dirs.Config, "format_config.json"))
	v.SetDefault("format.default", "disable")
	v.SetDefault("format.base_url", "http://localhost:11434")
	v.SetDefault("format.timeout", 30*time.Second)

	v.SetDefault("delivery.auto_paste", true)
	v.SetDefault("delivery.paste_delay", 150*time.Millisecond)
	v.SetDefault("delivery.copy_empty", false)

	v.SetDefault("capture.backend", "auto")
	v.SetDefault("capture.input", "")
	v.SetDefault("capture.format", "")

	v.SetDefault("hotkey", "alt+s")

	v.SetDefault("ui.mode", "shell")
	v.SetDefault("ui.themes", []string{})
	v.SetDefault("ui.theme", "")

	v.SetDefault("transcripts.save", true)
	v.SetDefault("transcripts.dir", dirs.Transcripts)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", joinIfSet(dirs.Data, "history.sqlite"))

	v.SetDefault("silence.gate", true)
	v.SetDefault("silence.threshold_dbfs", -65.0)

	v.SetDefault("log.verbose", false)
	v.SetDefault("log.json", false)
}

var (
	ErrInvalidDevice = errors.New("model.device must be cpu or cuda")
	ErrInvalidUIMode = errors.New("ui.mode must be shell, terminal or none")
	ErrNonLoopback   = errors.New("server.host must be a loopback address")
)

// loopback accepts localhost and any loopback IP. An empty host would listen
// on every interface.
func loopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}

func (s Settings) Validate() error {
	var errs []error
	if s.Model.Device != "cpu" && s.Model.Device != "cuda" {
		errs = append(errs, fmt.Errorf("%w, got %q", ErrInvalidDevice, s.Model.Device))
	}
	switch s.UI.Mode {
	case "shell", "terminal", "none":
	default:
		errs = append(errs, fmt.Errorf("%w, got %q", ErrInvalidUIMode, s.UI.Mode))
	}
	if !loopback(s.Server.Host) {
		errs = append(errs, fmt.Errorf("%w, got %q", ErrNonLoopback, s.Server.Host))
	}
	if s.Server.Port < 0 || s.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", s.Server.Port))
	}
	if s.Model.IdleTimeout <= 0 {
		errs = append(errs, errors.New("model.idle_timeout must be positive"))
	}
	if s.Silence.ThresholdDBFS >= 0 {
		errs = append(errs, errors.New("silence.threshold_dbfs must be negative"))
	}
	return errors.Join(errs...)
}

func joinIfSet(dir, name string) string {
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, name)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
