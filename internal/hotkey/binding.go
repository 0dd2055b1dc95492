// Package hotkey turns key presses into dictation toggles.
package hotkey

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const DefaultBinding = "alt+s"

// Modifier bits match the Win32 MOD_* flags.
const (
	ModAlt   uint32 = 0x0001
	ModCtrl  uint32 = 0x0002
	ModShift uint32 = 0x0004
	ModWin   uint32 = 0x0008
)

var ErrInvalidBinding = errors.New("invalid hotkey binding")

// Binding is a parsed combination like "ctrl+shift+f9". Key is a Win32
// virtual-key code.
type Binding struct {
	Spec string
	Mods uint32
	Key  uint32
}

func (b Binding) String() string {
	return b.Spec
}

var namedKeys = map[string]uint32{
	"esc":       0x1B,
	"escape":    0x1B,
	"space":     0x20,
	"enter":     0x0D,
	"return":    0x0D,
	"tab":       0x09,
	"backspace": 0x08,
	"insert":    0x2D,
	"delete":    0x2E,
	"home":      0x24,
	"end":       0x23,
	"pageup":    0x21,
	"pagedown":  0x22,
	"left":      0x25,
	"up":        0x26,
	"right":     0x27,
	"down":      0x28,
	"pause":     0x13,
	"scroll":    0x91,
}

// Parse reads a "+"-separated binding. Modifiers come first, the key last.
func Parse(spec string) (Binding, error) {
	normalized := strings.ToLower(strings.TrimSpace(spec))
	if normalized == "" {
		return Binding{}, fmt.Errorf("%w: empty", ErrInvalidBinding)
	}

	parts := strings.Split(normalized, "+")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	var mods uint32
	for _, p := range parts[:len(parts)-1] {
		switch p {
		case "alt", "menu", "option":
			mods |= ModAlt
		case "ctrl", "control":
			mods |= ModCtrl
		case "shift":
			mods |= ModShift
		case "win", "meta", "super", "cmd":
			mods |= ModWin
		default:
			return Binding{}, fmt.Errorf("%w: unknown modifier %q in %q", ErrInvalidBinding, p, spec)
		}
	}

	key, err := parseKey(parts[len(parts)-1])
	if err != nil {
		return Binding{}, fmt.Errorf("%w: %v in %q", ErrInvalidBinding, err, spec)
	}
	return Binding{Spec: normalized, Mods: mods, Key: key}, nil
}

func parseKey(token string) (uint32, error) {
	if token == "" {
		return 0, errors.New("missing key")
	}
	if len(token) == 1 {
		ch := token[0]
		switch {
		case ch >= 'a' && ch <= 'z':
			return uint32(ch - 'a' + 'A'), nil
		case ch >= '0' && ch <= '9':
			return uint32(ch), nil
		}
	}
	if v, ok := namedKeys[token]; ok {
		return v, nil
	}
	if n, ok := strings.CutPrefix(token, "f"); ok {
		if i, err := strconv.Atoi(n); err == nil && i >= 1 && i <= 24 {
			return 0x70 + uint32(i-1), nil
		}
	}
	if n, ok := strings.CutPrefix(token, "numpad"); ok && len(n) == 1 && n[0] >= '0' && n[0] <= '9' {
		return 0x60 + uint32(n[0]-'0'), nil
	}
	return 0, fmt.Errorf("unsupported key %q", token)
}
