// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package host is the editor-facing side of ferrule.

It provides the pieces an editor host would normally supply:

  - Loop: the single goroutine every host callback runs on
  - Editor: the active document and document-saved subscriptions
  - Disposables: a registry torn down in reverse order at deactivation
  - Watcher: a filesystem save source for editors without the bridge
  - Bus: fanout of task and session events
  - Bridge: the local HTTP API editors use to report state

Save events reach subscribers in arrival order, one at a time, on the Loop.
*/
package host
