package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracerProviderInstallsPropagator(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp, err := InitTracerProvider(context.Background(), "", sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := Tracer("test").Start(context.Background(), "ingest")
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	span.End()

	require.Contains(t, carrier.Get("traceparent"), span.SpanContext().TraceID().String())
	ended := recorder.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, "ingest", ended[0].Name())

	var found bool
	for _, kv := range ended[0].Resource().Attributes() {
		if string(kv.Key) == "service.name" {
			require.Equal(t, ServiceName, kv.Value.AsString())
			found = true
		}
	}
	require.True(t, found)
}
