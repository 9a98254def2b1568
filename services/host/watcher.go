// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package host

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/ferrule/pkg/logging"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the window in which repeated writes to one path
// collapse into a single save.
const DefaultDebounce = 100 * time.Millisecond

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// Debounce is the coalescing window. Zero delivers every event
	// immediately. Negative uses DefaultDebounce.
	Debounce time.Duration

	// IgnoreDirs are directory base names never watched.
	// Default: target, .git, node_modules, .idea
	IgnoreDirs []string

	// IgnoreGlobs are file base-name patterns dropped before debouncing.
	// Default: *.swp, *.tmp, *~, .#*
	IgnoreGlobs []string
}

// DefaultWatcherOptions returns the options used by `ferrule serve`.
func DefaultWatcherOptions() WatcherOptions {
	return WatcherOptions{
		Debounce:    DefaultDebounce,
		IgnoreDirs:  []string{"target", ".git", "node_modules", ".idea"},
		IgnoreGlobs: []string{"*.swp", "*.tmp", "*~", ".#*"},
	}
}

// Watcher turns file writes under a root into save events.
//
// # Description
//
// Write and Create events on regular files become saves. Within one
// debounce window each path is reported once; paths are delivered in the
// order their first event arrived. New directories are watched as they
// appear.
//
// # Thread Safety
//
// Run must be called once. onSave is called from the Run goroutine.
type Watcher struct {
	root   string
	opts   WatcherOptions
	onSave func(path string)
	logger *logging.Logger
}

// NewWatcher creates a watcher for root. Nil logger discards.
func NewWatcher(root string, opts WatcherOptions, onSave func(path string), logger *logging.Logger) *Watcher {
	if opts.Debounce < 0 {
		opts.Debounce = DefaultDebounce
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Watcher{root: root, opts: opts, onSave: onSave, logger: logger}
}

// Run watches until ctx is cancelled.
//
// Pending saves are flushed before returning. Returns an error only when
// the watch could not be established.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addRecursive(fw, w.root); err != nil {
		return fmt.Errorf("watch %s: %w", w.root, err)
	}
	w.logger.Info("watching workspace for saves", "root", w.root, "debounce", w.opts.Debounce)

	var (
		pending []string
		seen    = make(map[string]struct{})
		timer   *time.Timer
		timerC  <-chan time.Time
	)

	flush := func() {
		for _, p := range pending {
			if w.onSave != nil {
				w.onSave(p)
			}
		}
		pending = pending[:0]
		clear(seen)
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				flush()
				return nil
			}
			path, isSave := w.classify(fw, event)
			if !isSave {
				continue
			}
			if w.opts.Debounce == 0 {
				if w.onSave != nil {
					w.onSave(path)
				}
				continue
			}
			if _, dup := seen[path]; !dup {
				seen[path] = struct{}{}
				pending = append(pending, path)
			}
			if timer == nil {
				timer = time.NewTimer(w.opts.Debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.opts.Debounce)
			}

		case <-timerC:
			timer, timerC = nil, nil
			flush()

		case err, ok := <-fw.Errors:
			if !ok {
				flush()
				return nil
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

// classify reports whether event is a save of a regular file. New
// directories are added to the watch as a side effect.
func (w *Watcher) classify(fw *fsnotify.Watcher, event fsnotify.Event) (string, bool) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return "", false
	}
	info, err := os.Stat(event.Name)
	if err != nil {
		return "", false
	}
	if info.IsDir() {
		if event.Has(fsnotify.Create) && !w.ignoredDir(event.Name) {
			if err := w.addRecursive(fw, event.Name); err != nil {
				w.logger.Debug("could not watch new directory", "path", event.Name, "error", err)
			}
		}
		return "", false
	}
	if !info.Mode().IsRegular() || w.ignoredFile(event.Name) {
		return "", false
	}
	return filepath.Clean(event.Name), true
}

func (w *Watcher) addRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.ignoredDir(path) {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}

func (w *Watcher) ignoredDir(path string) bool {
	base := filepath.Base(path)
	for _, name := range w.opts.IgnoreDirs {
		if base == name {
			return true
		}
	}
	return false
}

func (w *Watcher) ignoredFile(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range w.opts.IgnoreGlobs {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}
