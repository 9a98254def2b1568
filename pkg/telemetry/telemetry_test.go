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
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AleutianAI/ferrule/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	cfg := DefaultConfig()

	assert.Equal(t, "ferrule", cfg.ServiceName)
	assert.Equal(t, ExporterNone, cfg.TraceExporter)
	assert.Equal(t, ExporterNone, cfg.MetricExporter)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
}

func TestDefaultConfig_EnvOverrides(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "stdout")
	t.Setenv("OTEL_METRICS_EXPORTER", "prometheus")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	cfg := DefaultConfig()

	assert.Equal(t, "stdout", cfg.TraceExporter)
	assert.Equal(t, "prometheus", cfg.MetricExporter)
	assert.Equal(t, "collector:4317", cfg.OTLPEndpoint)
}

func TestInit_NilContext(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	_, err := Init(nil, Config{})
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInit_NoExporters(t *testing.T) {
	p, err := Init(context.Background(), Config{TraceExporter: ExporterNone, MetricExporter: ExporterNone})
	require.NoError(t, err)

	assert.Nil(t, p.MetricsHandler())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_UnknownExporter(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"trace", Config{TraceExporter: "jaeger-thrift", MetricExporter: ExporterNone}},
		{"metric", Config{TraceExporter: ExporterNone, MetricExporter: "statsd"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Init(context.Background(), tt.cfg)
			assert.ErrorIs(t, err, ErrUnknownExporter)
		})
	}
}

func TestInit_StdoutTraces(t *testing.T) {
	var buf bytes.Buffer
	p, err := Init(context.Background(), Config{
		ServiceName:    "ferrule-test",
		TraceExporter:  ExporterStdout,
		MetricExporter: ExporterNone,
		Output:         &buf,
	})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "Dispatcher.HandleSave")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), "Dispatcher.HandleSave")
}

func TestInit_PrometheusServesMetrics(t *testing.T) {
	p, err := Init(context.Background(), Config{
		ServiceName:    "ferrule-test",
		TraceExporter:  ExporterNone,
		MetricExporter: ExporterPrometheus,
	})
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(context.Background()) }()

	counter, err := otel.Meter("test").Int64Counter("dispatch_probe_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	handler := p.MetricsHandler()
	require.NotNil(t, handler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(body), "dispatch_probe_total")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestShutdown_NilProviders(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.Nil(t, p.MetricsHandler())
}

func TestLoggerWithTrace(t *testing.T) {
	rec := logging.NewRecorder()
	base := logging.New(logging.Config{Quiet: true, Recorder: rec})

	traceID := trace.TraceID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}
	spanID := trace.SpanID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	LoggerWithTrace(ctx, base).Info("with span")
	LoggerWithTrace(context.Background(), base).Info("without span")

	with := rec.Find("with span")
	require.Len(t, with, 1)
	assert.Equal(t, traceID.String(), with[0].Attrs["trace_id"])
	assert.Equal(t, spanID.String(), with[0].Attrs["span_id"])

	without := rec.Find("without span")
	require.Len(t, without, 1)
	assert.NotContains(t, without[0].Attrs, "trace_id")
}

func TestLoggerWithTrace_NilLogger(t *testing.T) {
	assert.NotNil(t, LoggerWithTrace(context.Background(), nil))
}
