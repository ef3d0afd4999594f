package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestClampRatio(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		input float64
		want  float64
	}{
		{name: "below_zero", input: -0.25, want: 0},
		{name: "within_bounds", input: 0.42, want: 0.42},
		{name: "above_one", input: 1.25, want: 1},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := clampRatio(tc.input); got != tc.want {
				t.Fatalf("clampRatio(%v) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestNormalizeTraceMode(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		input string
		want  string
	}{
		{input: "OFF", want: traceModeOff},
		{input: " errors ", want: traceModeErrors},
		{input: "", want: traceModeSampled},
		{input: "Detailed", want: traceModeDetailed},
		{input: "verbose", want: traceModeSampled},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.want+"_"+tc.input, func(t *testing.T) {
			t.Parallel()

			if got := normalizeTraceMode(tc.input); got != tc.want {
				t.Fatalf("normalizeTraceMode(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

// Not parallel: mutates the global tracer provider and trace mode.
func TestStartSpan(t *testing.T) {
	previousProvider := otel.GetTracerProvider()
	previousMode := TraceMode()
	t.Cleanup(func() {
		otel.SetTracerProvider(previousProvider)
		setTraceMode(previousMode)
	})

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(provider)

	setTraceMode(traceModeOff)
	ctx := context.Background()
	gotCtx, span := StartSpan(ctx, "collect", "collect.date")
	if gotCtx != ctx {
		t.Fatalf("StartSpan() with tracing off returned a derived context")
	}
	if span.SpanContext().IsValid() {
		t.Fatalf("StartSpan() with tracing off returned a recording span")
	}
	EndSpan(span, nil)

	setTraceMode(traceModeDetailed)
	_, okSpan := StartSpan(ctx, "collect", "collect.date", attribute.String("date", "2025-02-17"))
	EndSpan(okSpan, nil)
	_, failedSpan := StartSpan(ctx, "collect", "collect.date", attribute.String("date", "2025-02-18"))
	EndSpan(failedSpan, errors.New("boom"))
	EndSpan(nil, errors.New("ignored"))

	ended := recorder.Ended()
	if len(ended) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(ended))
	}
	if ended[0].Name() != "collect.date" || ended[0].Status().Code != codes.Ok {
		t.Fatalf("first span = %s/%v, want collect.date/Ok", ended[0].Name(), ended[0].Status().Code)
	}
	if ended[1].Status().Code != codes.Error || ended[1].Status().Description != "boom" {
		t.Fatalf("second span status = %+v, want Error/boom", ended[1].Status())
	}
	if scope := ended[0].InstrumentationScope().Name; scope != "github-report/collect" {
		t.Fatalf("instrumentation scope = %q, want github-report/collect", scope)
	}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() unexpected error: %v", err)
	}
}
