// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lsp is ferrule's Language Server Protocol client.
//
// It spawns one configured language server (rls, rust-analyzer) over stdio,
// performs the initialize handshake and keeps the connection alive until
// Shutdown. Only the lifecycle and logging parts of the protocol are used:
// language features are the editor's business.
//
// # Components
//
//   - Protocol: JSON-RPC framing with Content-Length headers
//   - Server: process lifecycle (start, initialize, shutdown, kill)
//
// Server-to-client requests are answered with a null result so servers that
// wait on e.g. client/registerCapability do not stall. Notifications are
// handed to Config.OnNotification.
//
// # Thread Safety
//
// All exported types are safe for concurrent use.
//
// # Example
//
//	srv := lsp.NewServer(lsp.Config{
//	    Executable: "rust-analyzer",
//	    RootPath:   "/path/to/workspace",
//	    Env:        map[string]string{"RUST_SRC_PATH": src},
//	}, logger)
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
//	defer srv.Shutdown(context.Background())
package lsp
