// Package txnmanager implements the transaction orchestrator: a Manager that
// drives resource-local transactions over a pluggable ResourceManager. The
// Manager owns the propagation decisions (start, join, suspend, nest), the
// commit and rollback protocol with its synchronization callbacks, and the
// per-attempt bookkeeping carried by TransactionStatus. All per-flow state
// lives in the sync_manager transaction context travelling with the
// context.Context, so a single Manager serves any number of concurrent flows.
package txnmanager

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	syncmanager "github.com/sushant-115/gojotx/core/sync_manager"
	"github.com/sushant-115/gojotx/core/transaction"
	internaltelemetry "github.com/sushant-115/gojotx/internal/telemetry"
	"github.com/sushant-115/gojotx/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Manager coordinates transaction attempts over a single ResourceManager.
// It decides, from the definition's propagation behavior and the state found
// on the flow's transaction context, whether a scope starts its own
// transaction, joins an existing one, suspends it or nests inside it, and it
// runs the completion protocol in Commit and Rollback.
//
// The Manager itself is stateless across attempts and safe for concurrent
// use; everything attempt-scoped lives in the TransactionStatus returned by
// Begin and in the transaction context bound to the derived context.Context.
type Manager struct {
	rm      ResourceManager
	cfg     Config
	log     *zap.Logger
	tracer  trace.Tracer
	metrics *internaltelemetry.TransactionMetrics
}

// New creates a Manager driving transactions over rm. A nil logger disables
// logging and a nil telemetry handle disables metrics and tracing.
func New(rm ResourceManager, cfg Config, log *zap.Logger, tel *telemetry.Telemetry) (*Manager, error) {
	if rm == nil {
		return nil, fmt.Errorf("%w: resource manager must not be nil", transaction.ErrTransactionUsage)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	if tel == nil {
		tel = telemetry.Noop()
	}
	metrics, err := internaltelemetry.NewTransactionMetrics(tel.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction metrics: %w", err)
	}
	return &Manager{
		rm:      rm,
		cfg:     cfg,
		log:     log,
		tracer:  tel.Tracer,
		metrics: metrics,
	}, nil
}

// Config returns the fixed policy this Manager runs with.
func (m *Manager) Config() Config {
	return m.cfg
}

// --- Begin ---

// Begin opens a transaction scope for def and returns the context the
// transactional work must run under together with the status describing the
// scope. Depending on def.Propagation and the transaction already present on
// the flow, the scope may own a brand-new transaction, participate in the
// existing one, nest inside it behind a savepoint, or run with no
// transaction at all. The returned context carries the flow's transaction
// context; callers pass it to their resource accesses and back into Commit
// or Rollback, exactly one of which must complete the returned status.
func (m *Manager) Begin(ctx context.Context, def transaction.Definition) (context.Context, *TransactionStatus, error) {
	tc, ok := syncmanager.FromContext(ctx)
	if !ok {
		tc = syncmanager.NewTransactionContext()
		ctx = syncmanager.NewContext(ctx, tc)
	}

	ctx, span, startTime := m.startTxnTelemetry(ctx, def)

	status, err := m.begin(ctx, tc, def)
	if err != nil {
		m.abortTxnTelemetry(ctx, span, startTime, def, err)
		return ctx, nil, err
	}

	status.startedAt = startTime
	status.span = span
	span.SetAttributes(
		attribute.String("txn.id", status.id),
		attribute.Bool("txn.new_transaction", status.IsNewTransaction()),
	)
	return ctx, status, nil
}

// begin resolves def against the transaction state the driver reports for
// this flow and prepares the matching transaction status.
func (m *Manager) begin(ctx context.Context, tc *syncmanager.TransactionContext, def transaction.Definition) (*TransactionStatus, error) {
	tx, err := m.rm.GetTransaction(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", transaction.ErrCannotCreateTransaction, err)
	}

	if m.isExistingTransaction(tx) {
		return m.handleExistingTransaction(ctx, tc, def, tx)
	}

	if def.Timeout < transaction.TimeoutDefault {
		return nil, fmt.Errorf("%w: invalid timeout %d", transaction.ErrInvalidTimeout, def.Timeout)
	}

	switch def.Propagation {
	case transaction.PropagationMandatory:
		return nil, fmt.Errorf("%w: no existing transaction found for transaction marked with propagation MANDATORY",
			transaction.ErrIllegalTransactionState)

	case transaction.PropagationRequired, transaction.PropagationRequiresNew, transaction.PropagationNested:
		suspended, err := m.suspend(ctx, tc, nil)
		if err != nil {
			return nil, err
		}
		m.log.Debug("Creating new transaction", zap.String("definition", def.String()))
		status, err := m.startTransaction(ctx, tc, def, tx, suspended)
		if err != nil {
			return nil, m.resumeAfterBeginError(ctx, tc, nil, suspended, err)
		}
		return status, nil

	default:
		// SUPPORTS, NOT_SUPPORTED and NEVER all run non-transactionally
		// here; an empty scope still carries synchronization if configured.
		if def.Isolation != transaction.IsolationDefault {
			m.log.Warn("Custom isolation level specified but no actual transaction initiated",
				zap.String("definition", def.String()))
		}
		newSynchronization := m.cfg.Synchronization == SyncAlways
		return m.prepareTransactionStatus(tc, def, nil, true, newSynchronization, nil)
	}
}

// handleExistingTransaction resolves def against the transaction tx already
// active on this flow.
func (m *Manager) handleExistingTransaction(ctx context.Context, tc *syncmanager.TransactionContext, def transaction.Definition, tx any) (*TransactionStatus, error) {
	switch def.Propagation {
	case transaction.PropagationNever:
		return nil, fmt.Errorf("%w: existing transaction found for transaction marked with propagation NEVER",
			transaction.ErrIllegalTransactionState)

	case transaction.PropagationNotSupported:
		m.log.Debug("Suspending current transaction")
		suspended, err := m.suspend(ctx, tc, tx)
		if err != nil {
			return nil, err
		}
		newSynchronization := m.cfg.Synchronization == SyncAlways
		return m.prepareTransactionStatus(tc, def, nil, false, newSynchronization, suspended)

	case transaction.PropagationRequiresNew:
		m.log.Debug("Suspending current transaction, creating new transaction",
			zap.String("definition", def.String()))
		suspended, err := m.suspend(ctx, tc, tx)
		if err != nil {
			return nil, err
		}
		status, err := m.startTransaction(ctx, tc, def, tx, suspended)
		if err != nil {
			return nil, m.resumeAfterBeginError(ctx, tc, tx, suspended, err)
		}
		return status, nil

	case transaction.PropagationNested:
		if !m.cfg.NestedAllowed {
			return nil, fmt.Errorf("%w: transaction manager does not allow nested transactions by default",
				transaction.ErrNestedTransactionNotSupported)
		}
		m.log.Debug("Creating nested transaction", zap.String("definition", def.String()))
		if m.useSavepointForNested() {
			// The nested scope stays inside the existing transaction and
			// holds a savepoint it can roll back to independently. No new
			// synchronization: callbacks keep firing for the whole outer
			// transaction only.
			status, err := m.prepareTransactionStatus(tc, def, tx, false, false, nil)
			if err != nil {
				return nil, err
			}
			if err := status.createAndHoldSavepoint(ctx); err != nil {
				return nil, err
			}
			m.metrics.SavepointCounter.Add(ctx, 1)
			return status, nil
		}
		// Drivers that nest natively get a regular begin call while the
		// outer transaction stays active.
		return m.startTransaction(ctx, tc, def, tx, nil)
	}

	// PropagationRequired, PropagationSupports and PropagationMandatory all
	// participate in the existing transaction.
	if m.cfg.ValidateExistingTransaction {
		if def.Isolation != transaction.IsolationDefault {
			if current := tc.CurrentTransactionIsolation(); current != def.Isolation {
				return nil, fmt.Errorf("%w: participating transaction with definition %s is not compatible with existing transaction isolation %s",
					transaction.ErrIllegalTransactionState, def, current)
			}
		}
		if !def.ReadOnly && tc.IsCurrentTransactionReadOnly() {
			return nil, fmt.Errorf("%w: participating transaction with definition %s is not marked as read-only but existing transaction is",
				transaction.ErrIllegalTransactionState, def)
		}
	}
	m.log.Debug("Participating in existing transaction", zap.String("definition", def.String()))
	newSynchronization := m.cfg.Synchronization != SyncNever
	return m.prepareTransactionStatus(tc, def, tx, false, newSynchronization, nil)
}

// startTransaction begins a brand-new transaction on the driver and prepares
// the status owning it. The definition's timeout is resolved against the
// configured default before the driver sees it.
func (m *Manager) startTransaction(ctx context.Context, tc *syncmanager.TransactionContext, def transaction.Definition, tx any, suspended *suspendedResources) (*TransactionStatus, error) {
	if def.Timeout == transaction.TimeoutDefault {
		def.Timeout = m.cfg.DefaultTimeout
	}
	newSynchronization := m.cfg.Synchronization != SyncNever
	status := m.newTransactionStatus(tc, def, tx, true, newSynchronization, suspended)
	if err := m.rm.Begin(ctx, tx, def); err != nil {
		return nil, fmt.Errorf("%w: %v", transaction.ErrCannotCreateTransaction, err)
	}
	if err := m.prepareSynchronization(tc, status, def); err != nil {
		return nil, err
	}
	return status, nil
}

// resumeAfterBeginError restores the transaction state suspended before a
// failed begin attempt. The begin error stays the primary one unless the
// resume itself fails, in which case the resume error supersedes it.
func (m *Manager) resumeAfterBeginError(ctx context.Context, tc *syncmanager.TransactionContext, tx any, suspended *suspendedResources, beginErr error) error {
	if resumeErr := m.resume(ctx, tc, tx, suspended); resumeErr != nil {
		m.log.Error("Inner transaction begin error overridden by outer transaction resume error",
			zap.NamedError("beginError", beginErr), zap.Error(resumeErr))
		return resumeErr
	}
	return beginErr
}

// --- Status Preparation ---

// newTransactionStatus builds the status for one attempt. Synchronization is
// only actually opened by this scope when no surrounding scope opened it
// already on the same flow.
func (m *Manager) newTransactionStatus(tc *syncmanager.TransactionContext, def transaction.Definition, tx any, newTransaction, newSynchronization bool, suspended *suspendedResources) *TransactionStatus {
	actualNewSynchronization := newSynchronization && !tc.IsSynchronizationActive()
	return &TransactionStatus{
		id:                 uuid.NewString(),
		definition:         def,
		tx:                 tx,
		tc:                 tc,
		newTransaction:     newTransaction,
		newSynchronization: actualNewSynchronization,
		suspended:          suspended,
	}
}

// prepareTransactionStatus builds the status and immediately prepares the
// flow's synchronization state for it, for scopes that do not go through
// startTransaction.
func (m *Manager) prepareTransactionStatus(tc *syncmanager.TransactionContext, def transaction.Definition, tx any, newTransaction, newSynchronization bool, suspended *suspendedResources) (*TransactionStatus, error) {
	status := m.newTransactionStatus(tc, def, tx, newTransaction, newSynchronization, suspended)
	if err := m.prepareSynchronization(tc, status, def); err != nil {
		return nil, err
	}
	return status, nil
}

// prepareSynchronization publishes the new scope's characteristics on the
// flow's transaction context and opens the synchronization registry, if this
// scope is the one carrying synchronization.
func (m *Manager) prepareSynchronization(tc *syncmanager.TransactionContext, status *TransactionStatus, def transaction.Definition) error {
	if !status.newSynchronization {
		return nil
	}
	tc.SetActualTransactionActive(status.HasTransaction())
	tc.SetCurrentTransactionIsolation(def.Isolation)
	tc.SetCurrentTransactionReadOnly(def.ReadOnly)
	tc.SetCurrentTransactionName(def.Name)
	return tc.InitSynchronization()
}

// --- Suspend and Resume ---

// suspend detaches the current transaction state from the flow so an inner
// transaction can run in its place. Registered synchronizations are
// suspended and deregistered, the driver detaches tx (when given), and the
// four published characteristics are captured and reset. With a nil tx only
// the synchronization bundle is suspended. Returns nil when there was
// nothing to suspend.
func (m *Manager) suspend(ctx context.Context, tc *syncmanager.TransactionContext, tx any) (*suspendedResources, error) {
	if tc.IsSynchronizationActive() {
		suspendedSyncs, err := m.suspendSynchronizations(ctx, tc)
		if err != nil {
			return nil, err
		}
		var resource any
		if tx != nil {
			resource, err = m.suspendResource(ctx, tx)
			if err != nil {
				// The driver could not detach, so the original transaction
				// keeps running: put the synchronizations back before
				// reporting.
				if resumeErr := m.resumeSynchronizations(ctx, tc, suspendedSyncs); resumeErr != nil {
					m.log.Error("Failed to restore synchronizations after suspension failure", zap.Error(resumeErr))
				}
				return nil, err
			}
		}
		suspended := &suspendedResources{
			resource:         resource,
			syncSuspended:    true,
			synchronizations: suspendedSyncs,
			name:             tc.CurrentTransactionName(),
			readOnly:         tc.IsCurrentTransactionReadOnly(),
			isolation:        tc.CurrentTransactionIsolation(),
			wasActive:        tc.IsActualTransactionActive(),
		}
		tc.SetCurrentTransactionName("")
		tc.SetCurrentTransactionReadOnly(false)
		tc.SetCurrentTransactionIsolation(transaction.IsolationDefault)
		tc.SetActualTransactionActive(false)
		m.metrics.SuspendedCounter.Add(ctx, 1)
		return suspended, nil
	}

	if tx != nil {
		// Transaction active but no synchronization to transfer.
		resource, err := m.suspendResource(ctx, tx)
		if err != nil {
			return nil, err
		}
		m.metrics.SuspendedCounter.Add(ctx, 1)
		return &suspendedResources{resource: resource}, nil
	}

	return nil, nil
}

// resume reattaches a previously suspended transaction state to the flow:
// the driver's resource first, then the published characteristics, then the
// synchronization registry with its callbacks in their original order. A nil
// holder is a no-op.
func (m *Manager) resume(ctx context.Context, tc *syncmanager.TransactionContext, tx any, suspended *suspendedResources) error {
	if suspended == nil {
		return nil
	}
	if suspended.resource != nil {
		if err := m.resumeResource(ctx, tx, suspended.resource); err != nil {
			return err
		}
	}
	if suspended.syncSuspended {
		tc.SetActualTransactionActive(suspended.wasActive)
		tc.SetCurrentTransactionIsolation(suspended.isolation)
		tc.SetCurrentTransactionReadOnly(suspended.readOnly)
		tc.SetCurrentTransactionName(suspended.name)
		if err := m.resumeSynchronizations(ctx, tc, suspended.synchronizations); err != nil {
			return err
		}
	}
	return nil
}

// suspendSynchronizations tells every registered synchronization to detach
// and closes the registry, returning the callbacks in invocation order. When
// one of them fails, the already-suspended ones are resumed again and the
// registry is left active.
func (m *Manager) suspendSynchronizations(ctx context.Context, tc *syncmanager.TransactionContext) ([]transaction.Synchronization, error) {
	syncs, err := tc.Synchronizations()
	if err != nil {
		return nil, err
	}
	for i, sync := range syncs {
		if err := sync.Suspend(ctx); err != nil {
			for _, s := range syncs[:i] {
				if resumeErr := s.Resume(ctx); resumeErr != nil {
					m.log.Error("Failed to resume synchronization after suspension failure", zap.Error(resumeErr))
				}
			}
			return nil, err
		}
	}
	if err := tc.ClearSynchronization(); err != nil {
		return nil, err
	}
	return syncs, nil
}

// resumeSynchronizations reopens the registry and re-registers the suspended
// callbacks, notifying each through its Resume hook.
func (m *Manager) resumeSynchronizations(ctx context.Context, tc *syncmanager.TransactionContext, syncs []transaction.Synchronization) error {
	if err := tc.InitSynchronization(); err != nil {
		return err
	}
	for _, sync := range syncs {
		if err := sync.Resume(ctx); err != nil {
			return err
		}
		if err := tc.RegisterSynchronization(sync); err != nil {
			return err
		}
	}
	return nil
}

// statusContext makes sure driver hooks and synchronization callbacks
// observe the transaction context the status was begun under, even when the
// caller hands Commit or Rollback a context predating Begin.
func (m *Manager) statusContext(ctx context.Context, status *TransactionStatus) context.Context {
	if tc, ok := syncmanager.FromContext(ctx); ok && tc == status.tc {
		return ctx
	}
	return syncmanager.NewContext(ctx, status.tc)
}

// --- Telemetry ---

// startTxnTelemetry begins the telemetry recording for one transaction
// attempt. It returns a new context, the trace span, and the start time.
func (m *Manager) startTxnTelemetry(ctx context.Context, def transaction.Definition) (context.Context, trace.Span, time.Time) {
	startTime := time.Now()

	m.metrics.ActiveUpDownCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("txn.propagation", def.Propagation.String()),
	))
	m.metrics.StartedCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("txn.propagation", def.Propagation.String()),
		attribute.Bool("txn.read_only", def.ReadOnly),
	))

	spanName := "Transaction"
	if def.Name != "" {
		spanName = def.Name
	}
	ctx, span := m.tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("txn.name", def.Name),
		attribute.String("txn.propagation", def.Propagation.String()),
		attribute.String("txn.isolation", def.Isolation.String()),
		attribute.Bool("txn.read_only", def.ReadOnly),
	))

	return ctx, span, startTime
}

// endTxnTelemetry completes the telemetry recording for one transaction
// attempt, using the completion outcome recorded on the status.
func (m *Manager) endTxnTelemetry(ctx context.Context, status *TransactionStatus) {
	if status.span == nil {
		return
	}
	latency := time.Since(status.startedAt).Milliseconds()

	if status.outcome == transaction.StatusUnknown {
		status.span.SetStatus(otelcodes.Error, status.outcome.String())
	} else {
		status.span.SetStatus(otelcodes.Ok, status.outcome.String())
	}
	status.span.SetAttributes(attribute.String("txn.outcome", status.outcome.String()))
	status.span.End()

	m.metrics.ActiveUpDownCounter.Add(ctx, -1, metric.WithAttributes(
		attribute.String("txn.propagation", status.definition.Propagation.String()),
	))

	metricAttributes := attribute.NewSet(
		attribute.String("txn.propagation", status.definition.Propagation.String()),
		attribute.String("txn.outcome", status.outcome.String()),
	)
	m.metrics.DurationHistogram.Record(ctx, latency, metric.WithAttributeSet(metricAttributes))
	m.metrics.CompletedCounter.Add(ctx, 1, metric.WithAttributeSet(metricAttributes))
}

// abortTxnTelemetry closes the telemetry recording for an attempt that never
// produced a status because Begin failed.
func (m *Manager) abortTxnTelemetry(ctx context.Context, span trace.Span, startTime time.Time, def transaction.Definition, beginErr error) {
	latency := time.Since(startTime).Milliseconds()

	span.SetStatus(otelcodes.Error, beginErr.Error())
	span.End()

	m.metrics.ActiveUpDownCounter.Add(ctx, -1, metric.WithAttributes(
		attribute.String("txn.propagation", def.Propagation.String()),
	))

	metricAttributes := attribute.NewSet(
		attribute.String("txn.propagation", def.Propagation.String()),
		attribute.String("txn.outcome", "BEGIN_FAILED"),
	)
	m.metrics.DurationHistogram.Record(ctx, latency, metric.WithAttributeSet(metricAttributes))
	m.metrics.CompletedCounter.Add(ctx, 1, metric.WithAttributeSet(metricAttributes))
}
