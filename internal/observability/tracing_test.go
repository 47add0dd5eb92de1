package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestNewTracer_Disabled(t *testing.T) {
	t.Parallel()

	tracer, err := NewTracer(context.Background(), TracerConfig{Enabled: false})
	require.NoError(t, err)

	assert.False(t, tracer.Enabled())
	assert.Equal(t, "secretgw", tracer.config.ServiceName)

	ctx, span := tracer.StartSpan(context.Background(), "noop")
	span.End()
	assert.NotNil(t, ctx)
	assert.NoError(t, tracer.Shutdown(context.Background()))
}

func TestNewTracer_EnabledWithoutExporter(t *testing.T) {
	tracer, err := NewTracer(context.Background(), TracerConfig{
		Enabled:      true,
		ServiceName:  "secretgw-test",
		SamplingRate: 1.0,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tracer.Shutdown(context.Background()) })

	assert.True(t, tracer.Enabled())

	_, span := tracer.StartSpan(context.Background(), "op")
	defer span.End()
	assert.True(t, span.SpanContext().IsValid())

}

func TestCreateSampler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rate float64
		want string
	}{
		{name: "always", rate: 1.0, want: sdktrace.AlwaysSample().Description()},
		{name: "above one", rate: 2.0, want: sdktrace.AlwaysSample().Description()},
		{name: "never", rate: 0, want: sdktrace.NeverSample().Description()},
		{name: "ratio", rate: 0.5, want: sdktrace.TraceIDRatioBased(0.5).Description()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, createSampler(tt.rate).Description())
		})
	}
}

func TestBuildOTLPExporterOptions(t *testing.T) {
	t.Parallel()

	secure := buildOTLPExporterOptions(TracerConfig{OTLPEndpoint: "collector:4317"})
	insecure := buildOTLPExporterOptions(TracerConfig{OTLPEndpoint: "collector:4317", Insecure: true})

	assert.Len(t, secure, 3)
	assert.Len(t, insecure, 4)
}
