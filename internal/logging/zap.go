// Package logging builds the process logger: a console sink on stderr and an
// optional per-run log file, each with its own encoding.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Options struct {
	Verbose bool
	JSON    bool
	// File, when set, receives every entry. It is truncated on startup so each
	// run starts with a fresh log.
	File string
	// DisableConsole drops the stderr sink, e.g. while a full-screen shell owns
	// the terminal.
	DisableConsole bool
	// Console overrides stderr as the console sink.
	Console io.Writer
}

func New(opts Options) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if opts.Verbose {
		level.SetLevel(zapcore.DebugLevel)
	}

	var cores []zapcore.Core
	if !opts.DisableConsole {
		var sink zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
		if opts.Console != nil {
			sink = zapcore.AddSync(opts.Console)
		}
		cores = append(cores, zapcore.NewCore(encoder(opts.JSON, true), sink, level))
	}
	if opts.File != "" {
		f, err := truncate(opts.File)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(encoder(opts.JSON, false), zapcore.Lock(f), level))
	}
	if len(cores) == 0 {
		return zap.NewNop(), nil
	}

	zapOpts := []zap.Option{zap.ErrorOutput(zapcore.Lock(os.Stderr))}
	if opts.Verbose {
		zapOpts = append(zapOpts, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	}
	return zap.New(zapcore.NewTee(cores...), zapOpts...), nil
}

// encoder picks JSON or console output. Console output on a terminal is
// colored and untimed; in a file it carries ISO8601 timestamps.
func encoder(json, terminal bool) zapcore.Encoder {
	if json {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewJSONEncoder(cfg)
	}

	cfg := zap.NewDevelopmentEncoderConfig()
	if terminal {
		cfg.TimeKey = ""
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	return zapcore.NewConsoleEncoder(cfg)
}

func truncate(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("reset log file: %w", err)
	}
	return f, nil
}
