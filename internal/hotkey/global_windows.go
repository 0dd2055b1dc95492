//go:build windows

package hotkey

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"syscall"
	"time"
	"unsafe"
)

var ErrUnsupported = errors.New("global hotkeys are not supported")

const (
	hotkeyID     = 1
	modNoRepeat  = 0x4000
	wmHotkey     = 0x0312
	pmRemove     = 0x0001
	pollInterval = 10 * time.Millisecond
)

var (
	user32               = syscall.NewLazyDLL("user32.dll")
	procRegisterHotKey   = user32.NewProc("RegisterHotKey")
	procUnregisterHotKey = user32.NewProc("UnregisterHotKey")
	procPeekMessageW     = user32.NewProc("PeekMessageW")
)

type winMsg struct {
	Hwnd    uintptr
	Message uint32
	WParam  uintptr
	LParam  uintptr
	Time    uint32
	PtX     int32
	PtY     int32
}

// GlobalSource registers Binding with RegisterHotKey and polls the thread's
// message queue. The binding is unregistered when Run returns.
type GlobalSource struct {
	Binding Binding
}

func (g *GlobalSource) Name() string { return "global:" + g.Binding.String() }

func (g *GlobalSource) Run(ctx context.Context, fire func()) error {
	// Hotkey messages are posted to the registering thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	r, _, callErr := procRegisterHotKey.Call(0, hotkeyID, uintptr(g.Binding.Mods|modNoRepeat), uintptr(g.Binding.Key))
	if r == 0 {
		return fmt.Errorf("register hotkey %s: %w", g.Binding, callErr)
	}
	defer procUnregisterHotKey.Call(0, hotkeyID)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var msg winMsg
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		for {
			got, _, _ := procPeekMessageW.Call(uintptr(unsafe.Pointer(&msg)), 0, wmHotkey, wmHotkey, pmRemove)
			if got == 0 {
				break
			}
			if msg.Message == wmHotkey && msg.WParam == hotkeyID {
				fire()
			}
		}
	}
}

func GlobalSupported() bool { return true }
