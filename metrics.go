package amqtx

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"pkt.systems/pslog"
)

type txnMetrics struct {
	declareDuration   metric.Int64Histogram
	dischargeDuration metric.Int64Histogram
	outcomes          metric.Int64Counter
	aggregatedSends   metric.Int64Counter
}

func newTxnMetrics(logger pslog.Logger) *txnMetrics {
	meter := otel.Meter("pkt.systems/amqtx")
	m := &txnMetrics{}
	var err error

	m.declareDuration, err = meter.Int64Histogram(
		"amqtx.txn.declare.duration_ms",
		metric.WithDescription("Time from declare sent to declare resolved"),
		metric.WithUnit("ms"),
	)
	logMetricInitError(logger, "amqtx.txn.declare.duration_ms", err)

	m.dischargeDuration, err = meter.Int64Histogram(
		"amqtx.txn.discharge.duration_ms",
		metric.WithDescription("Time from discharge sent to discharge resolved"),
		metric.WithUnit("ms"),
	)
	logMetricInitError(logger, "amqtx.txn.discharge.duration_ms", err)

	m.outcomes, err = meter.Int64Counter(
		"amqtx.txn.outcomes",
		metric.WithDescription("Transactions resolved, by outcome"),
	)
	logMetricInitError(logger, "amqtx.txn.outcomes", err)

	m.aggregatedSends, err = meter.Int64Counter(
		"amqtx.txn.sends.aggregated",
		metric.WithDescription("Producer sends aggregated into discharge decisions"),
	)
	logMetricInitError(logger, "amqtx.txn.sends.aggregated", err)

	return m
}

func (m *txnMetrics) recordDeclare(ctx context.Context, duration time.Duration, result string) {
	if m == nil || m.declareDuration == nil {
		return
	}
	ctx = metricContext(ctx)
	attrs := []attribute.KeyValue{attribute.String("amqtx.txn.result", resultLabel(result))}
	m.declareDuration.Record(ctx, duration.Milliseconds(), metric.WithAttributes(attrs...))
}

func (m *txnMetrics) recordDischarge(ctx context.Context, duration time.Duration, fail bool, result string) {
	if m == nil || m.dischargeDuration == nil {
		return
	}
	ctx = metricContext(ctx)
	attrs := []attribute.KeyValue{
		attribute.String("amqtx.txn.result", resultLabel(result)),
		attribute.Bool("amqtx.txn.fail", fail),
	}
	m.dischargeDuration.Record(ctx, duration.Milliseconds(), metric.WithAttributes(attrs...))
}

func (m *txnMetrics) recordOutcome(ctx context.Context, outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	ctx = metricContext(ctx)
	attrs := []attribute.KeyValue{attribute.String("amqtx.txn.outcome", resultLabel(outcome))}
	m.outcomes.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *txnMetrics) recordAggregatedSends(ctx context.Context, pending int) {
	if m == nil || m.aggregatedSends == nil {
		return
	}
	ctx = metricContext(ctx)
	m.aggregatedSends.Add(ctx, int64(pending))
}

func metricContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func resultLabel(result string) string {
	if result == "" {
		return "unknown"
	}
	return result
}

func logMetricInitError(logger pslog.Logger, name string, err error) {
	if err == nil || logger == nil {
		return
	}
	logger.Warn("telemetry.metric.init_failed", "name", name, "error", err)
}
