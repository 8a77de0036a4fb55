// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// configWatcher calls reload after the configuration file changes.
//
// # Description
//
// The parent directory is watched rather than the file, because editors
// usually save by writing a temporary file and renaming it over the old one,
// which drops a watch placed on the file itself. Bursts of events are
// collapsed by a debounce window so one save triggers one reload.
//
// # Thread Safety
//
// Run must be called once. reload is called from the Run goroutine only.
type configWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	reload   func() error
	logger   *slog.Logger
}

func newConfigWatcher(path string, debounce time.Duration, reload func() error, logger *slog.Logger) (*configWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &configWatcher{
		path:     abs,
		watcher:  w,
		debounce: debounce,
		reload:   reload,
		logger:   logger.With(slog.String("config", abs)),
	}, nil
}

// Run delivers reloads until ctx is cancelled. A failed reload is logged and
// the watcher keeps going.
func (c *configWatcher) Run(ctx context.Context) error {
	defer c.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-c.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != c.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(c.debounce)
			} else {
				timer.Reset(c.debounce)
			}
			fire = timer.C

		case err, ok := <-c.watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("config watcher error", slog.String("error", err.Error()))

		case <-fire:
			fire = nil
			if err := c.reload(); err != nil {
				c.logger.Error("config reload failed, keeping the running prior",
					slog.String("error", err.Error()))
				continue
			}
			c.logger.Info("config reloaded")
		}
	}
}
