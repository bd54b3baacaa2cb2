package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestNewTracer_Disabled(t *testing.T) {
	t.Parallel()

	tracer, err := NewTracer(TracerConfig{
		ServiceName: "gateway-test",
		Enabled:     false,
	})
	require.NoError(t, err)
	require.NotNil(t, tracer)

	ctx, span := tracer.StartSpan(context.Background(), "test-span")
	assert.NotNil(t, ctx)
	assert.NotNil(t, span)
	span.End()

	assert.NoError(t, tracer.Shutdown(context.Background()))
}

func TestNewTracer_EnabledWithoutEndpoint(t *testing.T) {
	t.Parallel()

	tracer, err := NewTracer(TracerConfig{
		ServiceName: "gateway-test",
		Enabled:     true,
		SampleRatio: 1.0,
	})
	require.NoError(t, err)
	require.NotNil(t, tracer)

	_, span := tracer.StartSpan(context.Background(), "test-span")
	assert.True(t, span.SpanContext().HasTraceID())
	span.End()

	assert.NoError(t, tracer.Shutdown(context.Background()))
}

func TestNewSampler(t *testing.T) {
	t.Parallel()

	assert.Equal(t, sdktrace.AlwaysSample(), newSampler(1.0))
	assert.Equal(t, sdktrace.AlwaysSample(), newSampler(1.5))
	assert.Equal(t, sdktrace.NeverSample(), newSampler(0))
	assert.Equal(t, sdktrace.NeverSample(), newSampler(-0.1))
	assert.NotNil(t, newSampler(0.5))
}

func TestTracingMiddleware(t *testing.T) {
	t.Parallel()

	tracer, err := NewTracer(TracerConfig{
		ServiceName: "gateway-test",
		Enabled:     true,
		SampleRatio: 1.0,
	})
	require.NoError(t, err)
	defer func() { _ = tracer.Shutdown(context.Background()) }()

	var sawSpan bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawSpan = SpanFromContext(r.Context()).SpanContext().HasTraceID()
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/users/42", nil)

	TracingMiddleware(tracer)(next).ServeHTTP(rec, req)

	assert.True(t, sawSpan)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestInjectTraceContext(t *testing.T) {
	t.Parallel()

	tracer, err := NewTracer(TracerConfig{
		ServiceName: "gateway-test",
		Enabled:     true,
		SampleRatio: 1.0,
	})
	require.NoError(t, err)
	defer func() { _ = tracer.Shutdown(context.Background()) }()

	ctx, span := tracer.StartSpan(context.Background(), "outbound")
	defer span.End()

	req := httptest.NewRequest("GET", "http://upstream/users", nil)
	InjectTraceContext(ctx, req)

	assert.NotEmpty(t, req.Header.Get("Traceparent"))
}
