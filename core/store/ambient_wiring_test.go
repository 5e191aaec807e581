package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/sushant-115/txndict/config"
	"github.com/sushant-115/txndict/core/coordinator"
	"github.com/sushant-115/txndict/pkg/logger"
	"github.com/sushant-115/txndict/pkg/telemetry"
)

// TestDictionary_ConfigLoggerTelemetryWiring exercises the ambient stack
// end to end: config.Default feeds logger.New and telemetry.New, and their
// outputs are wired into a TransactionalDictionary via WithLogger and
// WithMeter, rather than sitting declared but never called.
func TestDictionary_ConfigLoggerTelemetryWiring(t *testing.T) {
	cfg := config.Default()

	zapLogger, err := logger.New(cfg.Logger)
	require.NoError(t, err)

	tel, shutdown, err := telemetry.New(cfg.Telemetry)
	require.NoError(t, err)
	defer func() { require.NoError(t, shutdown(context.Background())) }()

	backing := NewMapBackingStore[string, int]()
	mgr := coordinator.New(zapLogger)
	dict := New[string, int](backing, mgr, WithLogger[string, int](zapLogger), WithMeter[string, int](tel.Meter))

	mgr.Begin()
	require.NoError(t, dict.Set("k", 1))
	require.NoError(t, mgr.Complete(context.Background()))

	v, err := dict.Get("k")
	require.NoError(t, err)
	require.Equal(t, 1, v)
}

// TestDictionary_MeterRecordsShadowLifecycle asserts that WithMeter's
// instruments actually observe values. It builds its own OTel SDK
// MeterProvider over a manual reader instead of routing through
// pkg/telemetry's Prometheus exporter, so the test never binds a port or
// registers against the global Prometheus registerer.
func TestDictionary_MeterRecordsShadowLifecycle(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { require.NoError(t, provider.Shutdown(context.Background())) }()
	meter := provider.Meter("txndict_test")

	backing := NewMapBackingStore[string, int]()
	mgr := coordinator.New(nil)
	dict := New[string, int](backing, mgr, WithMeter[string, int](meter))

	mgr.Begin()
	require.NoError(t, dict.Set("k", 1))
	require.NoError(t, mgr.Complete(context.Background()))

	var data metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &data))

	var found bool
	for _, sm := range data.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "txndict.shadow.committed_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			require.Len(t, sum.DataPoints, 1)
			require.Equal(t, int64(1), sum.DataPoints[0].Value)
			found = true
		}
	}
	require.True(t, found, "expected txndict.shadow.committed_total to be recorded")
}
