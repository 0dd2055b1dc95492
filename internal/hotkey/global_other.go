//go:build !windows

package hotkey

import (
	"context"
	"errors"
)

var ErrUnsupported = errors.New("global hotkeys are only supported on windows")

// GlobalSource is unavailable on this platform; use the terminal or shell
// source instead.
type GlobalSource struct {
	Binding Binding
}

func (g *GlobalSource) Name() string { return "global:" + g.Binding.String() }

func (g *GlobalSource) Run(context.Context, func()) error {
	return ErrUnsupported
}

func GlobalSupported() bool { return false }
