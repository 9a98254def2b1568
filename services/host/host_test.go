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
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/ferrule/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runLoop starts l and stops it when the test ends.
func runLoop(t *testing.T, l *Loop) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = l.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
}

// =============================================================================
// Loop
// =============================================================================

func TestLoop_RunsInArrivalOrder(t *testing.T) {
	l := NewLoop(0, nil)

	var got []int
	for i := 0; i < 50; i++ {
		i := i
		require.True(t, l.Post(func() { got = append(got, i) }))
	}
	runLoop(t, l)

	require.NoError(t, l.Call(context.Background(), func() {}))
	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoop_CallWaits(t *testing.T) {
	l := NewLoop(1, nil)
	runLoop(t, l)

	ran := false
	require.NoError(t, l.Call(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestLoop_PanicIsContained(t *testing.T) {
	rec := logging.NewRecorder()
	l := NewLoop(4, logging.New(logging.Config{Quiet: true, Recorder: rec}))
	runLoop(t, l)

	require.NoError(t, l.Call(context.Background(), func() { panic("boom") }))

	ran := false
	require.NoError(t, l.Call(context.Background(), func() { ran = true }))
	assert.True(t, ran, "loop must survive a panicking callback")

	entries := rec.Find("event loop callback panicked")
	require.Len(t, entries, 1)
	assert.Equal(t, "boom", entries[0].Attrs["panic"])
}

func TestLoop_PostAfterStop(t *testing.T) {
	l := NewLoop(1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = l.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	assert.False(t, l.Post(func() {}))
	assert.ErrorIs(t, l.Call(context.Background(), func() {}), ErrLoopStopped)
}

func TestLoop_RunTwice(t *testing.T) {
	l := NewLoop(1, nil)
	runLoop(t, l)
	require.Eventually(t, func() bool { return l.running.Load() }, time.Second, time.Millisecond)
	assert.ErrorIs(t, l.Run(context.Background()), ErrLoopRunning)
}

func TestLoop_PostNil(t *testing.T) {
	assert.False(t, NewLoop(1, nil).Post(nil))
}

// =============================================================================
// Disposables
// =============================================================================

func TestDisposables_ReverseOrder(t *testing.T) {
	d := NewDisposables()
	var order []string
	add := func(name string) Disposable {
		return DisposableFunc(func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}
	require.NoError(t, d.Add(context.Background(), add("save-subscription"), add("session")))
	assert.Equal(t, 2, d.Len())

	require.NoError(t, d.Dispose(context.Background()))
	assert.Equal(t, []string{"session", "save-subscription"}, order)

	// Second dispose is a no-op.
	require.NoError(t, d.Dispose(context.Background()))
	assert.Len(t, order, 2)
}

func TestDisposables_JoinsErrors(t *testing.T) {
	d := NewDisposables()
	errA := errors.New("a")
	errB := errors.New("b")
	calls := 0
	_ = d.Add(context.Background(),
		DisposableFunc(func(context.Context) error { calls++; return errA }),
		DisposableFunc(func(context.Context) error { calls++; return errB }),
	)

	err := d.Dispose(context.Background())
	assert.Equal(t, 2, calls, "all items disposed despite failures")
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
}

func TestDisposables_AddAfterDispose(t *testing.T) {
	d := NewDisposables()
	require.NoError(t, d.Dispose(context.Background()))

	disposed := false
	err := d.Add(context.Background(), nil, DisposableFunc(func(context.Context) error {
		disposed = true
		return nil
	}))
	require.NoError(t, err)
	assert.True(t, disposed)
	assert.Equal(t, 0, d.Len())
}

// =============================================================================
// Editor
// =============================================================================

func TestEditor_SaveFanout(t *testing.T) {
	e := NewEditor(nil)

	var first, second []string
	subA := e.OnDidSave(func(doc Document) { first = append(first, doc.ID) })
	e.OnDidSave(func(doc Document) { second = append(second, doc.ID) })
	assert.Equal(t, 2, e.Subscribers())

	e.Save(Document{ID: "a"})
	require.NoError(t, subA.Dispose(context.Background()))
	require.NoError(t, subA.Dispose(context.Background()))
	e.Save(Document{ID: "b"})

	assert.Equal(t, []string{"a"}, first)
	assert.Equal(t, []string{"a", "b"}, second)
	assert.Equal(t, 1, e.Subscribers())
}

func TestEditor_ActiveIsCopied(t *testing.T) {
	e := NewEditor(nil)
	assert.Nil(t, e.Active())

	doc := Document{ID: "x", LanguageID: "rust", FileName: "/w/src/main.rs"}
	e.SetActive(&doc)
	doc.ID = "mutated"

	active := e.Active()
	require.NotNil(t, active)
	assert.Equal(t, "x", active.ID)

	active.ID = "also-mutated"
	assert.Equal(t, "x", e.Active().ID)

	e.SetActive(nil)
	assert.Nil(t, e.Active())
}

func TestEditor_DocumentFor(t *testing.T) {
	e := NewEditor(nil)

	doc := e.DocumentFor("/w/src/../src/lib.rs")
	assert.Equal(t, "/w/src/lib.rs", doc.ID)
	assert.Equal(t, "/w/src/lib.rs", doc.FileName)
	assert.Equal(t, "rust", doc.LanguageID)

	rel := e.DocumentFor("main.rs")
	assert.True(t, filepath.IsAbs(rel.FileName))
}

// =============================================================================
// Languages
// =============================================================================

func TestLanguages_LanguageFor(t *testing.T) {
	l := DefaultLanguages()
	tests := []struct {
		path string
		want string
	}{
		{"/w/src/main.rs", "rust"},
		{"/w/SRC/MAIN.RS", "rust"},
		{"/w/Cargo.toml", "toml"},
		{"/w/README.md", "markdown"},
		{"/w/notes.txt", PlainText},
		{"/w/Makefile", PlainText},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, l.LanguageFor(tt.path), tt.path)
	}

	l.Register("ron", "ron")
	assert.Equal(t, "ron", l.LanguageFor("/w/config.ron"))
}

// =============================================================================
// Bus
// =============================================================================

func TestBus_Fanout(t *testing.T) {
	b := NewBus(nil)
	ch1, cancel1 := b.Subscribe()
	ch2, cancel2 := b.Subscribe()
	defer cancel2()
	assert.Equal(t, 2, b.Subscribers())

	b.Publish(Event{Type: EventTaskStarted, Task: "build"})

	ev1 := <-ch1
	ev2 := <-ch2
	assert.Equal(t, "build", ev1.Task)
	assert.Equal(t, EventTaskStarted, ev2.Type)
	assert.False(t, ev1.Time.IsZero(), "publish stamps the time")

	cancel1()
	cancel1()
	_, open := <-ch1
	assert.False(t, open)
	assert.Equal(t, 1, b.Subscribers())
}

func TestBus_DropsWhenFull(t *testing.T) {
	b := NewBus(nil)
	ch, cancel := b.Subscribe()
	defer cancel()

	for i := 0; i < DefaultBusDepth+10; i++ {
		b.Publish(Event{Type: EventTaskOutput})
	}
	assert.Len(t, ch, DefaultBusDepth)
}

func TestBus_NilSafe(t *testing.T) {
	var b *Bus
	b.Publish(Event{Type: EventSession})
	ch, cancel := b.Subscribe()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.Subscribers())
}

func TestBus_ConcurrentPublish(t *testing.T) {
	b := NewBus(nil)
	ch, cancel := b.Subscribe()
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				b.Publish(Event{Type: EventTaskOutput})
			}
		}()
	}
	wg.Wait()
	assert.Len(t, ch, 100)
}
