package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

func TestConfig_Sampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), Config{SampleRate: 1}.Sampler().Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), Config{SampleRate: 0}.Sampler().Description())
	assert.Contains(t, Config{SampleRate: 0.25}.Sampler().Description(), "TraceIDRatioBased{0.25}")
}

func TestInitTracer_Disabled(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), Config{}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))

	ctx, span := StartSpan(context.Background(), "test", "test.op", attribute.String("k", "v"))
	defer span.End()
	assert.NotNil(t, ctx)
}
