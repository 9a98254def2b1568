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
	"path/filepath"
	"sync"
)

// Document identifies an editor document.
type Document struct {
	// ID is stable for the life of the document. Two events refer to the
	// same document iff their IDs are equal.
	ID string `json:"id"`

	// LanguageID is the editor's language, e.g. "rust".
	LanguageID string `json:"language_id"`

	// FileName is the document's file system path.
	FileName string `json:"file_name"`
}

// SaveHandler receives document-saved events.
type SaveHandler func(doc Document)

// Editor tracks the active document and fans out save events.
//
// Description:
//
//	Save delivers to subscribers in registration order. It is meant to be
//	called from the Loop so that subscribers see events one at a time.
//
// Thread Safety:
//
//	Safe for concurrent use. Subscribers run on the caller's goroutine.
type Editor struct {
	mu        sync.RWMutex
	active    *Document
	subs      []subscription
	nextSub   int
	languages *Languages
}

type subscription struct {
	id int
	fn SaveHandler
}

// NewEditor creates an editor with no active document.
//
// Nil languages uses DefaultLanguages.
func NewEditor(languages *Languages) *Editor {
	if languages == nil {
		languages = DefaultLanguages()
	}
	return &Editor{languages: languages}
}

// DocumentFor builds the Document for a file path.
//
// The ID is the cleaned absolute path; the language comes from the
// extension registry.
func (e *Editor) DocumentFor(path string) Document {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	abs = filepath.Clean(abs)
	return Document{
		ID:         abs,
		LanguageID: e.languages.LanguageFor(abs),
		FileName:   abs,
	}
}

// Active returns a copy of the active document, or nil.
func (e *Editor) Active() *Document {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.active == nil {
		return nil
	}
	doc := *e.active
	return &doc
}

// SetActive replaces the active document. Nil clears it.
func (e *Editor) SetActive(doc *Document) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if doc == nil {
		e.active = nil
		return
	}
	d := *doc
	e.active = &d
}

// OnDidSave subscribes fn to save events.
//
// Disposing the returned value unsubscribes. Disposing twice is a no-op.
func (e *Editor) OnDidSave(fn SaveHandler) Disposable {
	e.mu.Lock()
	e.nextSub++
	id := e.nextSub
	e.subs = append(e.subs, subscription{id: id, fn: fn})
	e.mu.Unlock()

	return DisposableFunc(func(context.Context) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, s := range e.subs {
			if s.id == id {
				e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
				break
			}
		}
		return nil
	})
}

// Save delivers doc to every subscriber.
func (e *Editor) Save(doc Document) {
	e.mu.RLock()
	subs := make([]SaveHandler, 0, len(e.subs))
	for _, s := range e.subs {
		subs = append(subs, s.fn)
	}
	e.mu.RUnlock()

	for _, fn := range subs {
		fn(doc)
	}
}

// Subscribers returns the number of save subscribers.
func (e *Editor) Subscribers() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}
