package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const watchDebounce = 200 * time.Millisecond

// Target is a file or directory whose changes trigger OnChange. Files are
// watched through their parent directory so editors that replace the file
// on save are still seen.
type Target struct {
	Path     string
	Dir      bool
	OnChange func()
}

// Watch blocks until ctx is done, calling each target's OnChange at most once
// per burst of filesystem events.
func Watch(ctx context.Context, logger *zap.Logger, targets ...Target) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	watched := map[string]bool{}
	for _, t := range targets {
		dir := filepath.Clean(t.Path)
		if !t.Dir {
			dir = filepath.Dir(dir)
		}
		if watched[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			logger.Warn("not watching path", zap.String("path", dir), zap.Error(err))
			continue
		}
		watched[dir] = true
	}

	var (
		mu     sync.Mutex
		timers = map[int]*time.Timer{}
	)
	defer func() {
		mu.Lock()
		for _, timer := range timers {
			timer.Stop()
		}
		mu.Unlock()
	}()

	trigger := func(i int) {
		mu.Lock()
		defer mu.Unlock()
		if timer, ok := timers[i]; ok {
			timer.Reset(watchDebounce)
			return
		}
		t := targets[i]
		timers[i] = time.AfterFunc(watchDebounce, func() {
			logger.Debug("watched path changed", zap.String("path", t.Path))
			t.OnChange()
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			for i, t := range targets {
				if matches(t, event.Name) {
					trigger(i)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("file watcher error", zap.Error(err))
		}
	}
}

func matches(t Target, name string) bool {
	name = filepath.Clean(name)
	if t.Dir {
		return filepath.Dir(name) == filepath.Clean(t.Path)
	}
	return name == filepath.Clean(t.Path)
}
