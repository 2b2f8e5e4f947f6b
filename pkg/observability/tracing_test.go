package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	prev := otel.GetTracerProvider()
	rec := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func TestTraceStageRecordsSpan(t *testing.T) {
	rec := withRecorder(t)

	err := TraceStage(context.Background(), "fetch", func(ctx context.Context) error {
		return nil
	}, attribute.String("dataset", "building_permits"))
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "civicsync.fetch", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.String("dataset", "building_permits"))
	assert.Contains(t, spans[0].Attributes(), attribute.String("stage", "fetch"))
}

func TestTraceStageRecordsError(t *testing.T) {
	rec := withRecorder(t)
	boom := errors.New("boom")

	err := TraceStage(context.Background(), "load", func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "boom", spans[0].Status().Description)
}

func TestTraceStageNestsSpans(t *testing.T) {
	rec := withRecorder(t)

	_ = TraceStage(context.Background(), "run", func(ctx context.Context) error {
		return TraceStage(ctx, "dedupe", func(context.Context) error { return nil })
	})

	spans := rec.Ended()
	require.Len(t, spans, 2)
	child, parent := spans[0], spans[1]
	assert.Equal(t, parent.SpanContext().SpanID(), child.Parent().SpanID())
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracingExportsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{
		ServiceName:    "civicsync-test",
		ServiceVersion: "test",
		Enabled:        true,
		SamplingRate:   1,
		Writer:         &buf,
	})
	require.NoError(t, err)

	_ = TraceStage(context.Background(), "normalize", func(context.Context) error { return nil })
	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, buf.String(), "civicsync.normalize")
	assert.Contains(t, buf.String(), "civicsync-test")
}
