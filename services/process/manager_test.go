// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeEnv(t *testing.T) {
	tests := []struct {
		name      string
		base      []string
		overrides map[string]string
		want      []string
	}{
		{
			name: "no overrides",
			base: []string{"PATH=/bin", "HOME=/root"},
			want: []string{"PATH=/bin", "HOME=/root"},
		},
		{
			name:      "override existing key in place",
			base:      []string{"PATH=/bin", "RUST_SRC_PATH=/old"},
			overrides: map[string]string{"RUST_SRC_PATH": "/new"},
			want:      []string{"PATH=/bin", "RUST_SRC_PATH=/new"},
		},
		{
			name:      "new keys appended sorted",
			base:      []string{"PATH=/bin"},
			overrides: map[string]string{"ZED": "1", "ALPHA": "2"},
			want:      []string{"PATH=/bin", "ALPHA=2", "ZED=1"},
		},
		{
			name:      "empty override value is kept",
			base:      []string{"RUST_LOG=debug"},
			overrides: map[string]string{"RUST_LOG": ""},
			want:      []string{"RUST_LOG="},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MergeEnv(tt.base, tt.overrides))
		})
	}
}

func TestDefaultManager_LookPath_NotFound(t *testing.T) {
	pm := NewDefaultManager()
	_, err := pm.LookPath("ferrule-definitely-not-installed")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDefaultManager_Start_Validation(t *testing.T) {
	pm := NewDefaultManager()

	//nolint:staticcheck // nil context is the case under test
	_, err := pm.Start(nil, Spec{Name: "true"})
	assert.ErrorIs(t, err, ErrNilContext)

	_, err = pm.Start(context.Background(), Spec{})
	assert.ErrorIs(t, err, ErrEmptyCommand)
}

func TestDefaultManager_Start_StreamsOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	pm := NewDefaultManager()

	var mu sync.Mutex
	var stdout, stderr []string

	h, err := pm.Start(context.Background(), Spec{
		Name: "sh",
		Args: []string{"-c", `echo "$FERRULE_TEST_VALUE"; echo oops 1>&2`},
		Env:  map[string]string{"FERRULE_TEST_VALUE": "hello"},
		OnStdout: func(line string) {
			mu.Lock()
			stdout = append(stdout, line)
			mu.Unlock()
		},
		OnStderr: func(line string) {
			mu.Lock()
			stderr = append(stderr, line)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	require.NoError(t, h.Wait())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"hello"}, stdout)
	assert.Equal(t, []string{"oops"}, stderr)
}

func TestDefaultManager_Stop_KillsProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sleep")
	}
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}

	pm := NewDefaultManager()
	h, err := pm.Start(context.Background(), Spec{Name: "sleep", Args: []string{"30"}})
	require.NoError(t, err)
	assert.Greater(t, h.PID(), 0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, h.Stop(ctx))

	// Wait returns the signal error and is repeatable.
	assert.Error(t, h.Wait())
	assert.Error(t, h.Wait())

	// Stopping again is a no-op.
	assert.NoError(t, h.Stop(ctx))
}

func TestMockManager_RecordsCalls(t *testing.T) {
	m := &MockManager{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return []byte("ok"), nil
		},
		LookPathFunc: func(name string) (string, error) {
			return "", ErrNotFound
		},
	}

	_, _ = m.Run(context.Background(), "cargo", "--version")
	_, err := m.LookPath("racer")

	assert.ErrorIs(t, err, ErrNotFound)
	calls := m.GetCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "Run", calls[0].Method)
	assert.Equal(t, []string{"--version"}, calls[0].Args)
	assert.Len(t, m.CallsTo("LookPath"), 1)

	m.Reset()
	assert.Empty(t, m.GetCalls())
}

func TestFakeHandle(t *testing.T) {
	h := NewFakeHandle()
	other := NewFakeHandle()
	assert.NotEqual(t, h.PID(), other.PID())

	require.NoError(t, h.Stop(context.Background()))
	assert.True(t, h.Stopped())
	assert.Error(t, h.Wait())

	other.Exit(nil)
	assert.NoError(t, other.Wait())
	assert.NoError(t, other.Stop(context.Background()))
	assert.False(t, other.Stopped())
}
