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
	"path/filepath"
	"strings"
	"sync"
)

// PlainText is the language ID for unrecognised files.
const PlainText = "plaintext"

// Languages maps file extensions to editor language IDs.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Languages struct {
	mu    sync.RWMutex
	byExt map[string]string
}

// DefaultLanguages returns the registry ferrule ships with.
func DefaultLanguages() *Languages {
	l := &Languages{byExt: make(map[string]string)}
	l.Register(".rs", "rust")
	l.Register(".toml", "toml")
	l.Register(".md", "markdown")
	l.Register(".json", "json")
	l.Register(".yaml", "yaml")
	l.Register(".yml", "yaml")
	return l
}

// Register maps ext (with or without the leading dot) to languageID.
func (l *Languages) Register(ext, languageID string) {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	l.mu.Lock()
	l.byExt[ext] = languageID
	l.mu.Unlock()
}

// LanguageFor returns the language ID for path, or PlainText.
func (l *Languages) LanguageFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	l.mu.RLock()
	defer l.mu.RUnlock()
	if id, ok := l.byExt[ext]; ok {
		return id
	}
	return PlainText
}
