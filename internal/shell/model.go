// Package shell is the terminal front end: a themed status bubble that
// follows the indicator and toggles dictation on space or enter.
package shell

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fmueller/voxpush/internal/indicator"
)

const previewWidth = 60

// StatusMsg carries an indicator update into the program.
type StatusMsg indicator.Update

// ResultMsg reports a finished dictation cycle.
type ResultMsg struct {
	Text string
	Err  error
}

type Options struct {
	Themes *indicator.Themes
	// Toggles receives one value per toggle key press. Sends never block.
	Toggles chan<- struct{}
	Hotkey  string
	Initial indicator.Update
}

// Model is the root bubbletea model.
type Model struct {
	themes  *indicator.Themes
	toggles chan<- struct{}
	hotkey  string

	current  indicator.Update
	last     string
	lastErr  string
	dropped  int
	width    int
	quitting bool
}

func New(opts Options) Model {
	return Model{
		themes:  opts.Themes,
		toggles: opts.Toggles,
		hotkey:  opts.Hotkey,
		current: opts.Initial,
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case StatusMsg:
		m.current = indicator.Update(msg)
	case ResultMsg:
		if msg.Err != nil {
			m.lastErr = msg.Err.Error()
			m.last = ""
		} else {
			m.lastErr = ""
			m.last = msg.Text
		}
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		m.quitting = true
		return m, tea.Quit
	case " ", "space", "enter":
		if m.toggles != nil {
			select {
			case m.toggles <- struct{}{}:
			default:
				m.dropped++
			}
		}
	case "t":
		m.nextTheme()
	}
	return m, nil
}

// nextTheme cycles through the configured themes.
func (m Model) nextTheme() {
	if m.themes == nil {
		return
	}
	names := m.themes.Names()
	if len(names) < 2 {
		return
	}
	cur := m.themes.Current().Name
	for i, name := range names {
		if name == cur {
			_ = m.themes.Select(names[(i+1)%len(names)])
			return
		}
	}
}

func (m Model) theme() indicator.Theme {
	if m.themes == nil {
		return indicator.Theme{}
	}
	return m.themes.Current()
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	theme := m.theme()

	label := strings.ToUpper(m.current.Status.String())
	b.WriteString(theme.Style(m.current.Status).Render("● " + label))
	if m.current.Detail != "" {
		b.WriteString("  ")
		b.WriteString(dim.Render(m.current.Detail))
	}
	b.WriteString("\n\n")

	switch {
	case m.lastErr != "":
		b.WriteString(errText.Render("last: " + truncate(m.lastErr, m.previewWidth())))
		b.WriteString("\n")
	case m.last != "":
		b.WriteString("last: " + truncate(m.last, m.previewWidth()))
		b.WriteString("\n")
	}

	help := "space/enter toggle · t theme · q quit"
	if m.hotkey != "" {
		help = fmt.Sprintf("%s · hotkey %s", help, m.hotkey)
	}
	if theme.Name != "" {
		help = fmt.Sprintf("%s · theme %s", help, theme.Name)
	}
	b.WriteString(dim.Render(help))
	b.WriteString("\n")
	return b.String()
}

func (m Model) previewWidth() int {
	if m.width > 10 && m.width-6 < previewWidth {
		return m.width - 6
	}
	return previewWidth
}

var (
	dim     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errText = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func truncate(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width <= 1 {
		return "…"
	}
	return string(runes[:width-1]) + "…"
}
