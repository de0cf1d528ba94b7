package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDebounce groups the bursts of events editors produce on save.
const DefaultReloadDebounce = 250 * time.Millisecond

// Watch reloads the config file at path whenever it changes and calls
// onChange with each valid result. Invalid files are logged and skipped.
// The directory is watched rather than the file so atomic-rename saves are
// seen. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, overrides Overrides, debounce time.Duration, onChange func(Config), log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultReloadDebounce
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}
	log.Debug("watching config file", "path", target)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", "err", err)
		case <-fire:
			fire = nil
			cfg, err := Load(target)
			if err == nil {
				err = overrides.Apply(&cfg)
			}
			if err != nil {
				log.Warn("config reload rejected; keeping previous settings", "path", target, "err", err)
				continue
			}
			log.Info("config reloaded", "path", target)
			onChange(cfg)
		}
	}
}
