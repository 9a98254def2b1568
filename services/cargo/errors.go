// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cargo

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/ferrule/services/host"
)

// Sentinel errors for the task runner.
var (
	// ErrUnknownTask indicates a name that is not a cargo task kind.
	// It wraps host.ErrUnknownCommand so the bridge can map it to 400.
	ErrUnknownTask = fmt.Errorf("unknown cargo task: %w", host.ErrUnknownCommand)

	// ErrRunnerClosed indicates the runner was closed at deactivation.
	ErrRunnerClosed = errors.New("task runner closed")

	// ErrNoWorkingDirectory indicates the working directory could not be
	// resolved for the task.
	ErrNoWorkingDirectory = errors.New("no working directory for task")
)
