// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cwd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// layout creates:
//
//	root/Cargo.toml
//	root/src/main.rs
//	root/crates/core/Cargo.toml
//	root/crates/core/src/lib.rs
//	root/scripts/gen.rs
func layout(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := []string{
		"Cargo.toml",
		"src/main.rs",
		"crates/core/Cargo.toml",
		"crates/core/src/lib.rs",
		"scripts/gen.rs",
	}
	for _, f := range files {
		p := filepath.Join(root, f)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, nil, 0o644))
	}
	return root
}

func TestResolver_Resolve(t *testing.T) {
	root := layout(t)
	r, err := NewResolver(root)
	require.NoError(t, err)

	tests := []struct {
		name string
		file string
		want string
	}{
		{"empty file gives root", "", root},
		{"root crate source", filepath.Join(root, "src", "main.rs"), root},
		{"nested crate source", filepath.Join(root, "crates", "core", "src", "lib.rs"), filepath.Join(root, "crates", "core")},
		{"nested crate manifest dir", filepath.Join(root, "crates", "core"), filepath.Join(root, "crates", "core")},
		{"no nested manifest walks to root", filepath.Join(root, "scripts", "gen.rs"), root},
		{"outside root gives root", "/elsewhere/src/main.rs", root},
		{"file need not exist", filepath.Join(root, "crates", "core", "src", "new.rs"), filepath.Join(root, "crates", "core")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(tt.file)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_RootWithoutManifest(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))

	r, err := NewResolver(root)
	require.NoError(t, err)

	got, err := r.Resolve(filepath.Join(root, "src", "main.rs"))
	require.NoError(t, err)
	assert.Equal(t, root, got)
}

func TestResolver_MissingRoot(t *testing.T) {
	r, err := NewResolver(filepath.Join(t.TempDir(), "gone"))
	require.NoError(t, err)

	_, err = r.Resolve("")
	assert.ErrorIs(t, err, ErrRootMissing)
}

func TestResolver_RelativeRoot(t *testing.T) {
	r, err := NewResolver(".")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(r.Root()))
}
