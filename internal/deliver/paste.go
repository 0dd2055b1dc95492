package deliver

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/micmonay/keybd_event"
)

// Paster sends the platform paste shortcut to the foreground window.
type Paster interface {
	Paste() error
}

// KeyPaster presses Ctrl+V, or Cmd+V on macOS, through keybd_event.
type KeyPaster struct {
	once sync.Once
	kb   keybd_event.KeyBonding
	err  error
}

func (k *KeyPaster) Paste() error {
	k.once.Do(func() {
		k.kb, k.err = keybd_event.NewKeyBonding()
		if k.err != nil {
			return
		}
		// uinput needs a moment before the new virtual device accepts events.
		if runtime.GOOS == "linux" {
			time.Sleep(2 * time.Second)
		}
		if runtime.GOOS == "darwin" {
			k.kb.HasSuper(true)
		} else {
			k.kb.HasCTRL(true)
		}
		k.kb.SetKeys(keybd_event.VK_V)
	})
	if k.err != nil {
		return fmt.Errorf("init keyboard: %w", k.err)
	}
	if err := k.kb.Launching(); err != nil {
		return fmt.Errorf("send paste shortcut: %w", err)
	}
	return nil
}
