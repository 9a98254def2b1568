// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

// RustSrcPathVar is the variable language servers use to find the
// standard library sources.
const RustSrcPathVar = "RUST_SRC_PATH"

// ResolveEnvironment returns the environment for the language server.
//
// Description:
//
//	Copies env and sets RUST_SRC_PATH to sourcePath when it is missing or
//	empty. sourcePath may itself be empty. Every other key is copied
//	unchanged. env is never modified.
//
// Inputs:
//
//	env - The configured environment. May be nil.
//	sourcePath - The resolved Rust source path.
//
// Outputs:
//
//	map[string]string - A fresh map; never nil.
func ResolveEnvironment(env map[string]string, sourcePath string) map[string]string {
	out := make(map[string]string, len(env)+1)
	for k, v := range env {
		out[k] = v
	}
	if out[RustSrcPathVar] == "" {
		out[RustSrcPathVar] = sourcePath
	}
	return out
}
