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
	"sync"
	"time"

	"github.com/AleutianAI/ferrule/pkg/logging"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventTaskStarted is published when a cargo task starts.
	EventTaskStarted EventType = "task_started"

	// EventTaskOutput carries one line of task output.
	EventTaskOutput EventType = "task_output"

	// EventTaskFinished is published when a task exits or is stopped.
	EventTaskFinished EventType = "task_finished"

	// EventDocumentSaved is published for each save event received.
	EventDocumentSaved EventType = "document_saved"

	// EventSession carries session lifecycle updates and revealed output.
	EventSession EventType = "session"
)

// Event is delivered to bus subscribers and websocket clients.
type Event struct {
	Type EventType `json:"type"`
	Time time.Time `json:"time"`

	// Task fields.
	RunID    string `json:"run_id,omitempty"`
	Task     string `json:"task,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Dir      string `json:"dir,omitempty"`
	Stream   string `json:"stream,omitempty"`
	Line     string `json:"line,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Stopped  bool   `json:"stopped,omitempty"`
	Duration int64  `json:"duration_ms,omitempty"`

	// Document fields.
	Path string `json:"path,omitempty"`

	// Session fields.
	Mode    string `json:"mode,omitempty"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Level   string `json:"level,omitempty"`

	Error string `json:"error,omitempty"`
}

// DefaultBusDepth is the per-subscriber buffer.
const DefaultBusDepth = 256

// Bus fans out events to subscribers.
//
// Publishing never blocks: a subscriber whose buffer is full misses the
// event. A nil *Bus accepts publishes and drops them.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Bus struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	logger *logging.Logger
	depth  int
}

// NewBus constructs a Bus. Nil logger discards.
func NewBus(logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Bus{
		subs:   make(map[chan Event]struct{}),
		logger: logger,
		depth:  DefaultBusDepth,
	}
}

// Subscribe registers a subscriber and returns its channel and a cancel
// func. Cancel closes the channel; calling it twice is safe.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	if b == nil {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	count := len(b.subs)
	b.mu.Unlock()
	b.logger.Debug("bus subscribe", "subs", count)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
			b.logger.Debug("bus unsubscribe")
		})
	}
}

// Publish delivers ev to every subscriber. A zero Time is set to now.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.subs) == 0 {
		return
	}
	dropped := 0
	for sub := range b.subs {
		select {
		case sub <- ev:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		b.logger.Debug("bus dropped event", "type", string(ev.Type), "count", dropped)
	}
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
