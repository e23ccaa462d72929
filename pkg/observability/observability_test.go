package observability

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathom-agent/fathom/pkg/config"
)

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics()

	m.LLMTokens.WithLabelValues("openai", "prompt").Add(120)
	m.LLMTokens.WithLabelValues("openai", "completion").Add(45)
	m.WindowsProcessed.Inc()
	m.WindowsProcessed.Inc()
	m.SessionsActive.Set(1)

	assert.Equal(t, float64(120), testutil.ToFloat64(m.LLMTokens.WithLabelValues("openai", "prompt")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.WindowsProcessed))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SessionsActive))
}

func TestMetricsIndependentRegistries(t *testing.T) {
	// Two managers must not collide on metric registration.
	a := NewMetrics()
	b := NewMetrics()
	a.WindowsProcessed.Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(a.WindowsProcessed))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.WindowsProcessed))
}

func TestManagerDisabledTracing(t *testing.T) {
	mgr := NewManager(config.ObservabilityConfig{ServiceName: "test"})
	require.NoError(t, mgr.Initialize(context.Background()))

	tracer := mgr.Tracer("test")
	_, span := tracer.Start(context.Background(), "op")
	span.End()

	require.NoError(t, mgr.Shutdown(context.Background()))
}
