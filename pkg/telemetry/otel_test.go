package telemetry

import (
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
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func TestStartSpan_RecordsAttributesAndError(t *testing.T) {
	rec := withRecorder(t)

	ctx, span := StartSpan(context.Background(), "mapping.Import", attribute.Int("rows", 3))
	AddSpanEvent(ctx, "dropped", attribute.String("qualifier", "related"))
	EndSpan(span, errors.New("boom"))

	spans := rec.Ended()
	require.Len(t, spans, 1)
	s := spans[0]
	assert.Equal(t, "mapping.Import", s.Name())
	assert.Equal(t, codes.Error, s.Status().Code)
	assert.Contains(t, s.Attributes(), attribute.Int("rows", 3))
	require.Len(t, s.Events(), 2) // "dropped" + recorded error
	assert.Equal(t, "dropped", s.Events()[0].Name)
}

func TestEndSpan_OK(t *testing.T) {
	rec := withRecorder(t)

	_, span := StartSpan(context.Background(), "query")
	EndSpan(span, nil)

	require.Len(t, rec.Ended(), 1)
	assert.Equal(t, codes.Unset, rec.Ended()[0].Status().Code)
}

func TestSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{1.0, sdktrace.AlwaysSample().Description()},
		{0, sdktrace.NeverSample().Description()},
		{0.25, sdktrace.TraceIDRatioBased(0.25).Description()},
	}

	for _, tt := range tests {
		if got := Sampler(tt.ratio).Description(); got != tt.want {
			t.Errorf("Sampler(%v) = %q, want %q", tt.ratio, got, tt.want)
		}
	}
}

func TestOTLPExporter_NotInitialized(t *testing.T) {
	e := NewOTLPExporter(DefaultOTLPConfig("ccm-test"))
	assert.False(t, e.IsInitialized())
	assert.NoError(t, e.shutdown(context.Background()))
}
