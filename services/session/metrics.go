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

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("ferrule.session")
	meter  = otel.Meter("ferrule.session")
)

var (
	sessionStarts  metric.Int64Counter
	revealedOutput metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		sessionStarts, err = meter.Int64Counter(
			"session_starts_total",
			metric.WithDescription("Session start attempts by kind and result"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		revealedOutput, err = meter.Int64Counter(
			"session_revealed_messages_total",
			metric.WithDescription("Language server messages at or above the reveal threshold"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startSessionSpan(ctx context.Context, kind Kind) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Session.Start",
		trace.WithAttributes(attribute.String("session.kind", kind.String())),
	)
}

// endSessionSpan records the start result on span and the counter.
func endSessionSpan(ctx context.Context, span trace.Span, kind Kind, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	if initMetrics() != nil {
		return
	}
	sessionStarts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind.String()),
		attribute.Bool("success", err == nil),
	))
}

func recordRevealed(ctx context.Context, level string) {
	if initMetrics() != nil {
		return
	}
	revealedOutput.Add(ctx, 1, metric.WithAttributes(attribute.String("level", level)))
}
