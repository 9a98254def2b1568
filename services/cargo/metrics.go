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
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("ferrule.cargo")
	meter  = otel.Meter("ferrule.cargo")
)

// Task outcomes recorded on cargo_task_outcomes_total.
const (
	outcomeSuccess    = "success"
	outcomeFailure    = "failure"
	outcomeStopped    = "stopped"
	outcomeSpawnError = "spawn_error"
)

var (
	taskStarts   metric.Int64Counter
	taskDuration metric.Float64Histogram
	taskOutcomes metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		taskStarts, err = meter.Int64Counter(
			"cargo_task_starts_total",
			metric.WithDescription("Cargo tasks started, by task and reason"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		taskDuration, err = meter.Float64Histogram(
			"cargo_task_duration_seconds",
			metric.WithDescription("Wall time from spawn to exit"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		taskOutcomes, err = meter.Int64Counter(
			"cargo_task_outcomes_total",
			metric.WithDescription("Cargo task results by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startTaskSpan(ctx context.Context, kind TaskKind, reason InvocationReason) (context.Context, trace.Span) {
	return tracer.Start(ctx, "TaskRunner.Start",
		trace.WithAttributes(
			attribute.String("cargo.task", kind.String()),
			attribute.String("cargo.reason", reason.String()),
		),
	)
}

func runIDAttr(runID string) attribute.KeyValue {
	return attribute.String("cargo.run_id", runID)
}

func recordTaskStart(ctx context.Context, kind TaskKind, reason InvocationReason) {
	if err := initMetrics(); err != nil {
		return
	}
	taskStarts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("task", kind.String()),
		attribute.String("reason", reason.String()),
	))
}

func recordTaskOutcome(ctx context.Context, kind TaskKind, outcome string, duration time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	taskOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("task", kind.String()),
		attribute.String("outcome", outcome),
	))
	if outcome != outcomeSpawnError {
		taskDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
			attribute.String("task", kind.String()),
		))
	}
}
