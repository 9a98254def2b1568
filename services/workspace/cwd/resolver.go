// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cwd picks the working directory for cargo invocations.
package cwd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ManifestName is the cargo manifest file.
const ManifestName = "Cargo.toml"

// ErrRootMissing indicates the workspace root does not exist.
var ErrRootMissing = errors.New("workspace root does not exist")

// Resolver maps files to the directory cargo should run in.
//
// Thread Safety:
//
//	Safe for concurrent use. The resolver holds no mutable state.
type Resolver struct {
	root string
}

// NewResolver creates a Resolver bounded by root.
//
// root is made absolute; it is not checked for existence until Resolve.
func NewResolver(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root %q: %w", root, err)
	}
	return &Resolver{root: filepath.Clean(abs)}, nil
}

// Root returns the absolute workspace root.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve returns the directory to run cargo in for file.
//
// Description:
//
//	Walks up from file's directory to the nearest ancestor containing
//	Cargo.toml, never leaving the workspace root. Returns the root when
//	file is empty, outside the root, or has no manifest above it.
//
// Errors:
//
//	ErrRootMissing - the workspace root does not exist or is not a directory
func (r *Resolver) Resolve(file string) (string, error) {
	info, err := os.Stat(r.root)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrRootMissing, r.root)
	}

	if file == "" {
		return r.root, nil
	}

	abs, err := filepath.Abs(file)
	if err != nil {
		return r.root, nil
	}
	dir := filepath.Dir(filepath.Clean(abs))
	if fi, err := os.Stat(abs); err == nil && fi.IsDir() {
		dir = abs
	}

	if !r.contains(dir) {
		return r.root, nil
	}

	for {
		if fileExists(filepath.Join(dir, ManifestName)) {
			return dir, nil
		}
		if dir == r.root {
			return r.root, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return r.root, nil
		}
		dir = parent
	}
}

// contains reports whether dir is the root or below it.
func (r *Resolver) contains(dir string) bool {
	if dir == r.root {
		return true
	}
	rel, err := filepath.Rel(r.root, dir)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
