package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/Dicklesworthstone/keepalive/internal/watcher"
)

// Watch reloads the config at path whenever it changes and passes the result
// to onChange. The directory is watched rather than the file so editors that
// replace the file on save keep working. Watching stops when ctx is done.
func Watch(ctx context.Context, path string, onChange func(*Config, error)) error {
	if path == "" {
		path = DefaultPath()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}
	name := filepath.Base(abs)

	w, err := watcher.New(func(events []watcher.Event) {
		cfg, err := Load(abs)
		if err == nil {
			if errs := Validate(cfg); len(errs) > 0 {
				err = fmt.Errorf("invalid config: %v", errs[0])
				cfg = nil
			}
		}
		if err != nil {
			slog.Warn("[Config] reload_failed", "path", abs, "error", err)
		} else {
			slog.Info("[Config] reloaded", "path", abs, "events", len(events))
		}
		onChange(cfg, err)
	},
		watcher.WithDebounceDuration(500*time.Millisecond),
		watcher.WithFilter(func(p string) bool { return filepath.Base(p) == name }),
	)
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}

	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	go func() {
		<-ctx.Done()
		w.Close()
	}()
	return nil
}
