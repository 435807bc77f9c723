/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestAttributesConvertsKnownTypes(t *testing.T) {
	at := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	attrs := Attributes(map[string]any{
		"hook":     "h",
		"count":    3,
		"big":      int64(7),
		"ratio":    0.5,
		"leader":   true,
		"as_of":    at,
		"elapsed":  1500 * time.Millisecond,
		"item_ids": []string{"a", "b"},
		"ignored":  struct{}{},
	})

	got := make(map[attribute.Key]attribute.Value, len(attrs))
	for _, kv := range attrs {
		got[kv.Key] = kv.Value
	}

	if len(got) != 8 {
		t.Fatalf("expected 8 attributes, got %d: %v", len(got), attrs)
	}
	if got["hook"].AsString() != "h" {
		t.Errorf("hook = %v", got["hook"])
	}
	if got["count"].AsInt64() != 3 {
		t.Errorf("count = %v", got["count"])
	}
	if got["as_of"].AsString() != "2026-04-01T08:00:00Z" {
		t.Errorf("as_of = %v", got["as_of"])
	}
	if got["elapsed_ms"].AsInt64() != 1500 {
		t.Errorf("elapsed_ms = %v", got["elapsed_ms"])
	}
	if ids := got["item_ids"].AsStringSlice(); len(ids) != 2 {
		t.Errorf("item_ids = %v", ids)
	}
}

func TestRecordErrorMarksSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	RecordError(span, nil)
	RecordError(span, errors.New("store unavailable"))
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", spans[0].Status().Code)
	}
	if len(spans[0].Events()) != 1 {
		t.Errorf("expected 1 error event, got %d", len(spans[0].Events()))
	}
}

func TestInitTracerDisabled(t *testing.T) {
	tp, err := InitTracer(context.Background(), TracerConfig{Enabled: false}, zerolog.Nop())
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown on disabled provider: %v", err)
	}
}

func TestSamplerFor(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1.0, "AlwaysOnSampler"},
		{2.0, "AlwaysOnSampler"},
		{0.0, "AlwaysOffSampler"},
		{-1, "AlwaysOffSampler"},
	}
	for _, tt := range tests {
		if got := samplerFor(tt.rate).Description(); got != tt.want {
			t.Errorf("samplerFor(%v) = %q, want %q", tt.rate, got, tt.want)
		}
	}
}
