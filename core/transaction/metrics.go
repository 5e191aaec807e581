package transaction

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Metrics instruments the gate and shadows with OpenTelemetry counters and
// histograms. The caller builds a metric.Meter (typically from an
// sdkmetric.MeterProvider backed by
// go.opentelemetry.io/otel/exporters/prometheus) and hands it to
// NewMetrics; this package only records against the resulting instruments.
type Metrics struct {
	gateWaitSeconds metric.Float64Histogram
	preparedTotal   metric.Int64Counter
	committedTotal  metric.Int64Counter
	rolledBackTotal metric.Int64Counter
	inDoubtTotal    metric.Int64Counter
	registrySize    metric.Int64UpDownCounter
}

// NewMetrics creates the instrument set on meter. meter is typically
// otel.Meter("github.com/sushant-115/txndict/core/transaction").
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	gateWaitSeconds, err := meter.Float64Histogram(
		"txndict.gate.wait_seconds",
		metric.WithDescription("time a transaction spent waiting to acquire the transaction gate"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create gate.wait_seconds histogram: %w", err)
	}
	preparedTotal, err := meter.Int64Counter(
		"txndict.shadow.prepared_total",
		metric.WithDescription("number of shadows that completed Prepare"),
	)
	if err != nil {
		return nil, fmt.Errorf("create shadow.prepared_total counter: %w", err)
	}
	committedTotal, err := meter.Int64Counter(
		"txndict.shadow.committed_total",
		metric.WithDescription("number of shadows that completed Commit"),
	)
	if err != nil {
		return nil, fmt.Errorf("create shadow.committed_total counter: %w", err)
	}
	rolledBackTotal, err := meter.Int64Counter(
		"txndict.shadow.rolled_back_total",
		metric.WithDescription("number of shadows that completed Rollback"),
	)
	if err != nil {
		return nil, fmt.Errorf("create shadow.rolled_back_total counter: %w", err)
	}
	inDoubtTotal, err := meter.Int64Counter(
		"txndict.shadow.in_doubt_total",
		metric.WithDescription("number of shadows that received InDoubt"),
	)
	if err != nil {
		return nil, fmt.Errorf("create shadow.in_doubt_total counter: %w", err)
	}
	registrySize, err := meter.Int64UpDownCounter(
		"txndict.registry.size",
		metric.WithDescription("number of shadows currently enlisted in the façade registry"),
	)
	if err != nil {
		return nil, fmt.Errorf("create registry.size counter: %w", err)
	}

	return &Metrics{
		gateWaitSeconds: gateWaitSeconds,
		preparedTotal:   preparedTotal,
		committedTotal:  committedTotal,
		rolledBackTotal: rolledBackTotal,
		inDoubtTotal:    inDoubtTotal,
		registrySize:    registrySize,
	}, nil
}

// recordGateWait records how long a single Lock call spent queued for the
// gate. otel instruments are safe for concurrent use across goroutines, so
// this carries no synchronization of its own.
func (m *Metrics) recordGateWait(wait time.Duration) {
	if m == nil {
		return
	}
	m.gateWaitSeconds.Record(context.Background(), wait.Seconds())
}

func (m *Metrics) recordPrepared() {
	if m == nil {
		return
	}
	m.preparedTotal.Add(context.Background(), 1)
}

func (m *Metrics) recordCommitted() {
	if m == nil {
		return
	}
	m.committedTotal.Add(context.Background(), 1)
}

func (m *Metrics) recordRolledBack() {
	if m == nil {
		return
	}
	m.rolledBackTotal.Add(context.Background(), 1)
}

func (m *Metrics) recordInDoubt() {
	if m == nil {
		return
	}
	m.inDoubtTotal.Add(context.Background(), 1)
}

func (m *Metrics) recordEnlisted() {
	if m == nil {
		return
	}
	m.registrySize.Add(context.Background(), 1)
}

func (m *Metrics) recordEvicted() {
	if m == nil {
		return
	}
	m.registrySize.Add(context.Background(), -1)
}
