package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDisabledProvider(t *testing.T) {
	p, err := InitTracer(Config{ServiceName: "podshell"}, nil)
	require.NoError(t, err)

	ctx, span := p.StartSpan(context.Background(), "noop")
	span.End()
	assert.NotNil(t, ctx)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSpansAreExported(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	p := NewWithExporter(Config{ServiceName: "podshell-test"}, exporter)
	defer p.Shutdown(context.Background())

	ctx, span := p.StartSpan(context.Background(), "orchestrator.route", attribute.String("source", "Docker"))
	SetError(ctx, errors.New("boom"))
	span.End()

	require.NoError(t, p.ForceFlush(context.Background()))
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "orchestrator.route", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Contains(t, spans[0].Attributes, attribute.String("source", "Docker"))
}
