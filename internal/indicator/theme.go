package indicator

import (
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var ErrUnknownTheme = errors.New("unknown theme")

const DefaultTheme = "classic"

type Theme struct {
	Name         string
	Idle         lipgloss.Color
	Listening    lipgloss.Color
	Transcribing lipgloss.Color
	Error        lipgloss.Color
}

func (t Theme) Color(s Status) lipgloss.Color {
	switch s {
	case Listening:
		return t.Listening
	case Transcribing:
		return t.Transcribing
	case Error:
		return t.Error
	default:
		return t.Idle
	}
}

// Style renders the status bubble for s.
func (t Theme) Style(s Status) lipgloss.Style {
	return lipgloss.NewStyle().
		Bold(true).
		Padding(0, 2).
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(t.Color(s))
}

var builtinThemes = []Theme{
	{Name: "classic", Idle: "#444444", Listening: "#D7263D", Transcribing: "#F4A259", Error: "#8B0000"},
	{Name: "ocean", Idle: "#1B3A4B", Listening: "#00A6ED", Transcribing: "#7FB800", Error: "#F6511D"},
	{Name: "mono", Idle: "#303030", Listening: "#BCBCBC", Transcribing: "#767676", Error: "#000000"},
	{Name: "forest", Idle: "#2D3A3A", Listening: "#43AA8B", Transcribing: "#F9C74F", Error: "#F94144"},
}

func BuiltinNames() []string {
	names := make([]string, 0, len(builtinThemes))
	for _, t := range builtinThemes {
		names = append(names, t.Name)
	}
	return names
}

// Themes is the configured list of themes and the active one.
type Themes struct {
	mu      sync.RWMutex
	order   []string
	byName  map[string]Theme
	current string
}

// NewThemes enables the named built-in themes in the given order. An empty
// list enables all of them. An empty current picks the first enabled theme.
func NewThemes(names []string, current string) (*Themes, error) {
	all := make(map[string]Theme, len(builtinThemes))
	for _, t := range builtinThemes {
		all[t.Name] = t
	}
	if len(names) == 0 {
		names = BuiltinNames()
	}

	th := &Themes{byName: make(map[string]Theme, len(names))}
	for _, name := range names {
		t, ok := all[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTheme, name)
		}
		if _, dup := th.byName[name]; dup {
			continue
		}
		th.byName[name] = t
		th.order = append(th.order, name)
	}

	if current == "" {
		current = th.order[0]
	}
	if _, ok := th.byName[current]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTheme, current)
	}
	th.current = current
	return th, nil
}

func (t *Themes) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.order...)
}

func (t *Themes) Current() Theme {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byName[t.current]
}

func (t *Themes) Select(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byName[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTheme, name)
	}
	t.current = name
	return nil
}
