package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Swind/go-progress-engine/core"
)

const DefaultReloadDelay = 500 * time.Millisecond

// Watch reloads the file at path whenever it changes and passes each valid
// configuration to fn. Invalid files are logged and skipped. Bursts of events
// are debounced by delay. Watch returns once the watcher is running; it stops
// when ctx is done.
func Watch(ctx context.Context, path string, delay time.Duration, logger core.Logger, fn func(Config)) error {
	if delay <= 0 {
		delay = DefaultReloadDelay
	}
	logger = core.WithComponent(logger, "config")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// editors replace files on save, so watch the directory
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	target := filepath.Clean(path)
	go func() {
		defer watcher.Close()

		var (
			mu          sync.Mutex
			reloadTimer *time.Timer
		)
		defer func() {
			mu.Lock()
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			mu.Unlock()
		}()

		reload := func() {
			cfg, err := Load(path)
			if err != nil {
				logger.Error("config reload failed", core.F("path", path), core.F("error", err))
				return
			}
			logger.Info("config reloaded", core.F("path", path))
			fn(cfg)
		}

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				logger.Debug("config file changed", core.F("op", event.Op.String()))

				mu.Lock()
				if reloadTimer != nil {
					reloadTimer.Stop()
				}
				reloadTimer = time.AfterFunc(delay, func() {
					if ctx.Err() == nil {
						reload()
					}
				})
				mu.Unlock()

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("watcher error", core.F("error", err))
			}
		}
	}()

	return nil
}
