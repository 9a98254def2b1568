// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"

	"github.com/AleutianAI/ferrule/pkg/logging"
	"go.opentelemetry.io/otel/trace"
)

// LoggerWithTrace adds trace_id and span_id from ctx to logger.
//
// Returns logger unchanged when ctx carries no valid span. A nil logger
// becomes logging.Nop().
func LoggerWithTrace(ctx context.Context, logger *logging.Logger) *logging.Logger {
	if logger == nil {
		logger = logging.Nop()
	}
	if ctx == nil {
		return logger
	}
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		"trace_id", spanCtx.TraceID().String(),
		"span_id", spanCtx.SpanID().String(),
	)
}
