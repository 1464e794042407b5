package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDisabledTracerIsNoop(t *testing.T) {
	tracer, shutdown, err := NewTracer(context.Background(), false)
	require.NoError(t, err)
	_, span := StartSpan(context.Background(), tracer, "restore")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetErrorRecordsStatus(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	tracer := tp.Tracer("test")

	_, span := StartSpan(context.Background(), tracer, "export", attribute.String(JobIDKey, "abc"))
	SetError(span, errors.New("quota exceeded"), attribute.String(ErrorKindKey, "permanent"))
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "quota exceeded", ended[0].Status().Description)
	assert.Contains(t, ended[0].Attributes(), attribute.String(JobIDKey, "abc"))

	var names []string
	for _, ev := range ended[0].Events() {
		names = append(names, ev.Name)
	}
	assert.Contains(t, names, "exception")
	assert.Contains(t, names, "error_occurred")
}
