package hotkey

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fmueller/voxpush/internal/orchestrator"
)

func TestParse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		spec string
		mods uint32
		key  uint32
	}{
		{spec: "alt+s", mods: ModAlt, key: 'S'},
		{spec: " Ctrl + Shift + F9 ", mods: ModCtrl | ModShift, key: 0x78},
		{spec: "win+space", mods: ModWin, key: 0x20},
		{spec: "f12", key: 0x7B},
		{spec: "ctrl+alt+7", mods: ModCtrl | ModAlt, key: '7'},
		{spec: "shift+numpad3", mods: ModShift, key: 0x63},
		{spec: "cmd+escape", mods: ModWin, key: 0x1B},
	}

	for _, tc := range cases {
		t.Run(tc.spec, func(t *testing.T) {
			t.Parallel()
			b, err := Parse(tc.spec)
			require.NoError(t, err)
			require.Equal(t, tc.mods, b.Mods)
			require.Equal(t, tc.key, b.Key)
		})
	}
}

func TestParseNormalizesSpec(t *testing.T) {
	t.Parallel()

	b, err := Parse("  ALT+S ")
	require.NoError(t, err)
	require.Equal(t, "alt+s", b.String())
}

func TestParseRejectsInvalidBindings(t *testing.T) {
	t.Parallel()

	for _, spec := range []string{"", "alt+", "hyper+s", "ctrl+f25", "ctrl+weird", "+"} {
		_, err := Parse(spec)
		require.ErrorIs(t, err, ErrInvalidBinding, spec)
	}
}

type stubToggler struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (s *stubToggler) Toggle(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func (s *stubToggler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestControllerTogglesPerEvent(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	toggler := &stubToggler{errs: []error{nil, fmt.Errorf("toggle: %w", orchestrator.ErrBusy), fmt.Errorf("arm: no backend")}}
	events := make(chan struct{})
	ctrl := NewController(toggler, zap.New(core), FuncSource{Label: "shell", Events: events})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	for range 3 {
		events <- struct{}{}
	}
	require.Eventually(t, func() bool { return toggler.count() == 3 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	require.Equal(t, 1, logs.FilterMessage("toggle ignored while finishing").Len())
	require.Equal(t, 1, logs.FilterMessage("toggle failed").Len())
}

type failingSource struct{}

func (failingSource) Name() string { return "broken" }

func (failingSource) Run(context.Context, func()) error { return ErrUnsupported }

func TestControllerKeepsRunningWhenSourceFails(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	toggler := &stubToggler{}
	events := make(chan struct{})
	ctrl := NewController(toggler, zap.New(core), failingSource{}, FuncSource{Label: "shell", Events: events})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	require.Eventually(t, func() bool {
		return logs.FilterMessage("hotkey source failed").Len() == 1
	}, time.Second, 5*time.Millisecond)

	events <- struct{}{}
	events <- struct{}{}
	require.Eventually(t, func() bool { return toggler.count() == 2 }, time.Second, 5*time.Millisecond)

	select {
	case err := <-done:
		t.Fatalf("controller returned early: %v", err)
	default:
	}

	cancel()
	require.NoError(t, <-done)
	entry := logs.FilterMessage("hotkey source failed").All()[0]
	require.Equal(t, "broken", entry.ContextMap()["source"])
}

func TestTerminalSourceFiresPerLine(t *testing.T) {
	t.Parallel()

	src := &TerminalSource{In: strings.NewReader("\n\nignored text\n")}
	fired := 0
	require.NoError(t, src.Run(context.Background(), func() { fired++ }))
	require.Equal(t, 3, fired)
}

func TestNewTerminalSourceRejectsNonTTY(t *testing.T) {
	t.Parallel()

	_, err := NewTerminalSource(nil)
	require.ErrorIs(t, err, ErrNotTerminal)
}
