// Copyright © 2025 CloudLens Authors, All Rights reserved

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ReloadFunc receives the freshly loaded configuration after the watched
// file changes and parses cleanly.
type ReloadFunc func(Config)

// Watcher reloads the configuration when the underlying file changes.
// Editors often replace files via rename, so the parent directory is watched
// and events are filtered down to the configured path. Rapid event bursts
// are collapsed with a debounce timer.
type Watcher struct {
	path     string
	debounce time.Duration
	onReload ReloadFunc
	fs       *fsnotify.Watcher
	logger   zerolog.Logger
}

// NewWatcher creates a watcher for the config file at path. The reload
// callback runs on the watcher goroutine after each debounced change.
func NewWatcher(path string, debounce time.Duration, onReload ReloadFunc) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	if err := fs.Add(filepath.Dir(absPath)); err != nil {
		_ = fs.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}

	return &Watcher{
		path:     absPath,
		debounce: debounce,
		onReload: onReload,
		fs:       fs,
		logger:   log.With().Str("component", "config-watcher").Logger(),
	}, nil
}

// Run blocks processing filesystem events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer func() {
		if err := w.fs.Close(); err != nil {
			w.logger.Error().Err(err).Msg("close fsnotify watcher failed")
		}
	}()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("config watch error")
		}
	}
}

// reload parses the file and hands the result to the callback. A broken
// edit never tears down the running gateway; the previous configuration
// stays live until the file parses again.
func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error().Err(err).Str("path", w.path).Msg("config reload rejected; keeping previous routes")
		return
	}

	w.logger.Info().Str("path", w.path).Int("routes", len(cfg.Rules)).Msg("config reloaded")
	w.onReload(cfg)
}
