// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for LSP operations.
var (
	tracer = otel.Tracer("ferrule.lsp")
	meter  = otel.Meter("ferrule.lsp")
)

// Metrics for LSP operations.
var (
	serverSpawns    metric.Int64Counter
	startupLatency  metric.Float64Histogram
	notifications   metric.Int64Counter
	serverExitTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		serverSpawns, err = meter.Int64Counter(
			"lsp_server_spawns_total",
			metric.WithDescription("Total number of LSP server spawns"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		startupLatency, err = meter.Float64Histogram(
			"lsp_server_startup_duration_seconds",
			metric.WithDescription("Time from spawn to initialized"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		notifications, err = meter.Int64Counter(
			"lsp_server_notifications_total",
			metric.WithDescription("Notifications and requests received from the server"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		serverExitTotal, err = meter.Int64Counter(
			"lsp_server_exits_total",
			metric.WithDescription("LSP server read loop exits"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startServerSpan creates a span covering spawn and initialize.
func startServerSpan(ctx context.Context, executable, rootPath string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Server.Start",
		trace.WithAttributes(
			attribute.String("lsp.executable", executable),
			attribute.String("lsp.root_path", rootPath),
		),
	)
}

// recordServerSpawn records a server spawn event.
func recordServerSpawn(ctx context.Context, executable string, duration time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("executable", executable),
		attribute.Bool("success", success),
	)
	serverSpawns.Add(ctx, 1, attrs)
	startupLatency.Record(ctx, duration.Seconds(), attrs)
}

// recordNotification records a message received from the server.
func recordNotification(ctx context.Context, method string) {
	if err := initMetrics(); err != nil {
		return
	}
	notifications.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

// recordServerExit records how the read loop ended.
func recordServerExit(ctx context.Context, crashed bool) {
	if err := initMetrics(); err != nil {
		return
	}
	serverExitTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("crashed", crashed)))
}
