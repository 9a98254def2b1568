// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Entry is a captured log record.
type Entry struct {
	Time    time.Time
	Level   Level
	Message string
	Attrs   map[string]any
}

// Recorder captures log records in memory.
//
// Useful for asserting on log output in tests:
//
//	rec := logging.NewRecorder()
//	logger := logging.New(logging.Config{Level: logging.LevelDebug, Quiet: true, Recorder: rec})
//	logger.Child("Cargo Manager").Info("task started")
//	entries := rec.Entries() // entries[0].Attrs["logger"] == "Cargo Manager"
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{entries: make([]Entry, 0, 32)}
}

// Entries returns a copy of all captured entries.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Find returns the captured entries with the given message.
func (r *Recorder) Find(msg string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, e := range r.entries {
		if e.Message == msg {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops all captured entries.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.entries = r.entries[:0]
	r.mu.Unlock()
}

func (r *Recorder) add(e Entry) {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
}

func (r *Recorder) withLevel(level slog.Level) slog.Handler {
	return &recordHandler{rec: r, level: level}
}

// recordHandler is the slog.Handler side of a Recorder.
type recordHandler struct {
	rec    *Recorder
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *recordHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *recordHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[h.qualify(a.Key)] = a.Value.Any()
		return true
	})
	h.rec.add(Entry{
		Time:    r.Time,
		Level:   levelFromSlog(r.Level),
		Message: r.Message,
		Attrs:   attrs,
	})
	return nil
}

func (h *recordHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &recordHandler{rec: h.rec, level: h.level, groups: h.groups}
	next.attrs = append(append([]slog.Attr{}, h.attrs...), qualifyAll(h, attrs)...)
	return next
}

func (h *recordHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &recordHandler{
		rec:    h.rec,
		level:  h.level,
		attrs:  h.attrs,
		groups: append(append([]string{}, h.groups...), name),
	}
}

func (h *recordHandler) qualify(key string) string {
	for i := len(h.groups) - 1; i >= 0; i-- {
		key = h.groups[i] + "." + key
	}
	return key
}

func qualifyAll(h *recordHandler, attrs []slog.Attr) []slog.Attr {
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = slog.Attr{Key: h.qualify(a.Key), Value: a.Value}
	}
	return out
}
