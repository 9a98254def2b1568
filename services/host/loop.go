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
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/ferrule/pkg/logging"
)

// DefaultLoopQueue is the number of callbacks that may wait for the loop.
const DefaultLoopQueue = 256

// Loop runs host callbacks one at a time in arrival order.
//
// Description:
//
//	Producers (bridge handlers, the watcher) Post closures; Run executes
//	them sequentially on a single goroutine. Nothing is batched or
//	reordered. A panicking callback is logged and the loop continues.
//
// Thread Safety:
//
//	Post and Call are safe for concurrent use. Run must be called once.
type Loop struct {
	queue   chan func()
	done    chan struct{}
	stop    sync.Once
	running atomic.Bool
	logger  *logging.Logger
}

// NewLoop creates a loop with the given queue size.
//
// A size <= 0 uses DefaultLoopQueue. Nil logger discards.
func NewLoop(size int, logger *logging.Logger) *Loop {
	if size <= 0 {
		size = DefaultLoopQueue
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Loop{
		queue:  make(chan func(), size),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Post queues fn for execution on the loop.
//
// Blocks while the queue is full. Returns false once the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.queue <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Call runs fn on the loop and waits for it to finish.
//
// Errors:
//
//	ErrLoopStopped - the loop stopped before fn ran
//	ctx.Err() - ctx ended first; fn may still run later
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrLoopStopped
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		// The callback may have been the last thing the loop ran.
		select {
		case <-finished:
			return nil
		default:
			return ErrLoopStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes queued callbacks until ctx is cancelled.
//
// Callbacks still queued when ctx ends are dropped. Returns nil on
// cancellation.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer l.stop.Do(func() { close(l.done) })

	for {
		select {
		case <-ctx.Done():
			if dropped := len(l.queue); dropped > 0 {
				l.logger.Debug("event loop stopped with queued callbacks", "dropped", dropped)
			}
			return nil
		case fn := <-l.queue:
			l.invoke(fn)
		}
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("event loop callback panicked",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	fn()
}
