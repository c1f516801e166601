package internaltelemetry

import (
	"go.opentelemetry.io/otel/metric"
)

// TransactionMetrics holds all the metric instruments for the transaction
// orchestrator.
type TransactionMetrics struct {
	StartedCounter      metric.Int64Counter
	CompletedCounter    metric.Int64Counter
	DurationHistogram   metric.Int64Histogram
	ActiveUpDownCounter metric.Int64UpDownCounter
	SuspendedCounter    metric.Int64Counter
	SavepointCounter    metric.Int64Counter
}

// NewTransactionMetrics creates and registers all the metrics for the
// transaction orchestrator.
func NewTransactionMetrics(meter metric.Meter) (*TransactionMetrics, error) {
	startedCounter, err := meter.Int64Counter(
		"gojotx.transactions.started_total",
		metric.WithDescription("Total number of transaction attempts started."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	completedCounter, err := meter.Int64Counter(
		"gojotx.transactions.completed_total",
		metric.WithDescription("Total number of transaction attempts completed, by outcome."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	durationHistogram, err := meter.Int64Histogram(
		"gojotx.transactions.duration",
		metric.WithDescription("Time from begin to completion of a transaction attempt."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	activeUpDownCounter, err := meter.Int64UpDownCounter(
		"gojotx.transactions.active",
		metric.WithDescription("Number of transaction attempts currently in progress."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	suspendedCounter, err := meter.Int64Counter(
		"gojotx.transactions.suspended_total",
		metric.WithDescription("Total number of transaction context suspensions."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	savepointCounter, err := meter.Int64Counter(
		"gojotx.transactions.savepoints_total",
		metric.WithDescription("Total number of savepoints created for nested scopes."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &TransactionMetrics{
		StartedCounter:      startedCounter,
		CompletedCounter:    completedCounter,
		DurationHistogram:   durationHistogram,
		ActiveUpDownCounter: activeUpDownCounter,
		SuspendedCounter:    suspendedCounter,
		SavepointCounter:    savepointCounter,
	}, nil
}
