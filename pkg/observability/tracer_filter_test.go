package observability_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/liberty-specpriv/specpriv/pkg/observability"
)

func newTestProvider() (*tracetest.InMemoryExporter, trace.TracerProvider) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	return exporter, tp
}

func TestFilteringProviderSuppressedTracer(t *testing.T) {
	t.Parallel()

	exporter, base := newTestProvider()
	fp := observability.NewFilteringTracerProvider(base)

	tracer := fp.Tracer("specpriv.squeue")
	_, span := tracer.Start(context.Background(), "squeue.produce_chunk")
	span.End()

	assert.Empty(t, exporter.GetSpans(), "suppressed tracer should produce no exported spans")
}

func TestFilteringProviderSuppressedSpan(t *testing.T) {
	t.Parallel()

	exporter, base := newTestProvider()
	fp := observability.NewFilteringTracerProvider(base)

	tracer := fp.Tracer("specpriv.worker")

	_, structSpan := tracer.Start(context.Background(), "specpriv.critic.plan")
	structSpan.End()

	_, hotSpan := tracer.Start(context.Background(), "specpriv.worker.begin_iter")
	hotSpan.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1, "only the structural span should be exported")
	assert.Equal(t, "specpriv.critic.plan", spans[0].Name)
}

func TestFilteringProviderPassThrough(t *testing.T) {
	t.Parallel()

	exporter, base := newTestProvider()
	fp := observability.NewFilteringTracerProvider(base)

	tracer := fp.Tracer("specpriv")
	_, span := tracer.Start(context.Background(), "specpriv.some_operation")
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "specpriv.some_operation", spans[0].Name)
}

func TestFilteringProviderEndIterSuppressed(t *testing.T) {
	t.Parallel()

	exporter, base := newTestProvider()
	fp := observability.NewFilteringTracerProvider(base)

	tracer := fp.Tracer("specpriv.worker")
	_, span := tracer.Start(context.Background(), "specpriv.worker.end_iter")
	span.End()

	assert.Empty(t, exporter.GetSpans(), "end_iter spans should be suppressed")
}

func TestFilteringProviderNoopSpanIsValid(t *testing.T) {
	t.Parallel()

	fp := observability.NewFilteringTracerProvider(nooptrace.NewTracerProvider())

	tracer := fp.Tracer("specpriv.squeue")
	ctx, span := tracer.Start(context.Background(), "squeue.consume_chunk")

	span.SetName("renamed")
	span.End()

	assert.NotNil(t, ctx)
}
