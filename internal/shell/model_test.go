package shell

import (
	"errors"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/fmueller/voxpush/internal/indicator"
)

func newThemes(t *testing.T) *indicator.Themes {
	t.Helper()
	themes, err := indicator.NewThemes([]string{"classic", "ocean"}, "classic")
	require.NoError(t, err)
	return themes
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestToggleKeysSendWithoutBlocking(t *testing.T) {
	t.Parallel()

	toggles := make(chan struct{}, 1)
	m := New(Options{Themes: newThemes(t), Toggles: toggles})

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeySpace})
	require.Nil(t, cmd)
	require.Len(t, toggles, 1)

	// the buffer is full, the second press is dropped instead of blocking
	updated, _ = updated.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.Len(t, toggles, 1)
	require.Equal(t, 1, updated.(Model).dropped)
}

func TestQuitKey(t *testing.T) {
	t.Parallel()

	m := New(Options{Themes: newThemes(t)})
	updated, cmd := m.Update(runes("q"))
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())
	require.Empty(t, updated.View())
}

func TestStatusMessageUpdatesView(t *testing.T) {
	t.Parallel()

	m := New(Options{Themes: newThemes(t), Hotkey: "alt+s"})
	require.Contains(t, m.View(), "IDLE")
	require.Contains(t, m.View(), "hotkey alt+s")

	updated, _ := m.Update(StatusMsg{Status: indicator.Listening})
	require.Contains(t, updated.View(), "LISTENING")

	updated, _ = updated.Update(StatusMsg{Status: indicator.Error, Detail: "no microphone"})
	view := updated.View()
	require.Contains(t, view, "ERROR")
	require.Contains(t, view, "no microphone")
}

func TestResultMessageShowsPreview(t *testing.T) {
	t.Parallel()

	m := New(Options{Themes: newThemes(t)})
	updated, _ := m.Update(ResultMsg{Text: "hello   there\nworld"})
	require.Contains(t, updated.View(), "last: hello there world")

	updated, _ = updated.Update(ResultMsg{Err: errors.New("clipboard unavailable")})
	require.Contains(t, updated.View(), "clipboard unavailable")
	require.NotContains(t, updated.View(), "hello there")
}

func TestThemeKeyCyclesThemes(t *testing.T) {
	t.Parallel()

	themes := newThemes(t)
	m := New(Options{Themes: themes})

	_, _ = m.Update(runes("t"))
	require.Equal(t, "ocean", themes.Current().Name)
	_, _ = m.Update(runes("t"))
	require.Equal(t, "classic", themes.Current().Name)
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	require.Equal(t, "short", truncate("short", 10))
	require.Equal(t, "abcd…", truncate("abcdefgh", 5))
	require.Equal(t, "a b", truncate("  a \n b ", 10))
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []tea.Msg
}

func (r *recordingSender) Send(msg tea.Msg) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func TestSinkForwardsUpdates(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{}
	ind := indicator.New(Sink{Program: sender})
	ind.Set(indicator.Transcribing, "")

	require.Equal(t, []tea.Msg{StatusMsg{Status: indicator.Transcribing}}, sender.msgs)

	Sink{}.Show(indicator.Update{Status: indicator.Idle})
}
