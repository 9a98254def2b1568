// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dispatch

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("ferrule.dispatch")
	meter  = otel.Meter("ferrule.dispatch")
)

var (
	saveEvents metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		saveEvents, metricsErr = meter.Int64Counter(
			"dispatch_save_events_total",
			metric.WithDescription("Document save events by dispatch outcome"),
		)
	})
	return metricsErr
}

func startDispatchSpan(ctx context.Context, path string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Dispatcher.HandleSave",
		trace.WithAttributes(attribute.String("document.path", path)),
	)
}

func endDispatchSpan(ctx context.Context, span trace.Span, outcome Outcome, action string) {
	span.SetAttributes(
		attribute.String("dispatch.outcome", string(outcome)),
		attribute.String("dispatch.action", action),
	)
	span.End()

	if initMetrics() != nil {
		return
	}
	saveEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
}
