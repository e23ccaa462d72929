package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/fathom-agent/fathom/pkg/config"
)

// Manager owns the tracer provider and metric set for one process.
type Manager struct {
	cfg config.ObservabilityConfig

	mu             sync.RWMutex
	tracerProvider trace.TracerProvider
	metrics        *Metrics
}

func NewManager(cfg config.ObservabilityConfig) *Manager {
	return &Manager{
		cfg:            cfg,
		tracerProvider: noop.NewTracerProvider(),
		metrics:        NewMetrics(),
	}
}

func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tp, err := InitTracer(ctx, m.cfg)
	if err != nil {
		return err
	}
	m.tracerProvider = tp
	return nil
}

func (m *Manager) Tracer(name string) trace.Tracer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tracerProvider.Tracer(name)
}

func (m *Manager) Metrics() *Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sd, ok := m.tracerProvider.(interface{ Shutdown(context.Context) error }); ok {
		return sd.Shutdown(ctx)
	}
	return nil
}
