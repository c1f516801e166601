package txnmanager

import (
	"context"
	"errors"
	"fmt"

	"github.com/sushant-115/gojotx/core/transaction"
	"go.uber.org/zap"
)

// --- Commit ---

// Commit completes the transaction attempt behind status. A status carrying
// a local rollback-only mark, or a global one the driver does not tolerate
// at commit time, is rolled back instead and the call fails with
// transaction.ErrUnexpectedRollback. Exactly one of Commit or Rollback must
// be called per status, exactly once; further calls fail with
// transaction.ErrIllegalTransactionState.
func (m *Manager) Commit(ctx context.Context, status *TransactionStatus) error {
	if status.IsCompleted() {
		return fmt.Errorf("%w: transaction is already completed - do not call commit or rollback more than once per transaction",
			transaction.ErrIllegalTransactionState)
	}
	ctx = m.statusContext(ctx, status)

	if status.IsLocalRollbackOnly() {
		m.log.Debug("Transactional code has requested rollback", zap.String("txnID", status.id))
		return m.processRollback(ctx, status, true)
	}
	if !m.commitOnGlobalRollbackOnly() && status.IsGlobalRollbackOnly() {
		m.log.Debug("Global transaction is marked as rollback-only but transactional code requested commit",
			zap.String("txnID", status.id))
		return m.processRollback(ctx, status, true)
	}

	return m.processCommit(ctx, status)
}

// processCommit runs the commit protocol: pre-commit preparation and
// callbacks, the actual commit on the driver, then the post-commit
// callbacks. Cleanup runs whatever the outcome.
func (m *Manager) processCommit(ctx context.Context, status *TransactionStatus) error {
	defer m.cleanupAfterCompletion(ctx, status)

	// Pre-commit stage. The driver's preparation and the before-commit
	// callbacks may still veto the commit; a veto rolls the transaction
	// back and surfaces the veto error.
	if err := m.prepareForCommit(ctx, status); err != nil {
		m.triggerBeforeCompletion(ctx, status)
		m.rollbackOnCommitError(ctx, status, err)
		return err
	}
	if err := m.triggerBeforeCommit(ctx, status); err != nil {
		m.triggerBeforeCompletion(ctx, status)
		m.rollbackOnCommitError(ctx, status, err)
		return err
	}
	m.triggerBeforeCompletion(ctx, status)

	// Commit stage. Only the scope owning the transaction, or holding a
	// savepoint, performs real work here; a plain participating scope defers
	// the decision to the outermost boundary.
	unexpectedRollback := false
	var commitErr error
	switch {
	case status.HasSavepoint():
		m.log.Debug("Releasing transaction savepoint", zap.String("txnID", status.id))
		unexpectedRollback = status.IsGlobalRollbackOnly()
		commitErr = status.releaseHeldSavepoint(ctx)
	case status.IsNewTransaction():
		m.log.Debug("Initiating transaction commit", zap.String("txnID", status.id))
		unexpectedRollback = status.IsGlobalRollbackOnly()
		commitErr = m.rm.Commit(ctx, status)
	case m.cfg.FailEarlyOnGlobalRollbackOnly:
		unexpectedRollback = status.IsGlobalRollbackOnly()
	}

	if commitErr != nil {
		if errors.Is(commitErr, transaction.ErrUnexpectedRollback) {
			// The driver resolved the commit into a rollback on its own.
			m.triggerAfterCompletion(ctx, status, transaction.StatusRolledBack)
			return commitErr
		}
		m.log.Error("Commit failed", zap.String("txnID", status.id), zap.Error(commitErr))
		if m.cfg.RollbackOnCommitFailure {
			m.rollbackOnCommitError(ctx, status, commitErr)
		} else {
			m.triggerAfterCompletion(ctx, status, transaction.StatusUnknown)
		}
		return commitErr
	}

	if unexpectedRollback {
		// The global rollback-only mark won: the resource rolled back (or
		// was about to) even though this scope asked for a commit.
		m.triggerAfterCompletion(ctx, status, transaction.StatusRolledBack)
		return fmt.Errorf("%w: transaction silently rolled back because it has been marked as rollback-only",
			transaction.ErrUnexpectedRollback)
	}

	// Post-commit stage. An after-commit callback error surfaces to the
	// caller, but the transaction stays committed.
	afterCommitErr := m.triggerAfterCommit(ctx, status)
	m.triggerAfterCompletion(ctx, status, transaction.StatusCommitted)
	return afterCommitErr
}

// rollbackOnCommitError performs the corrective rollback after a failed
// commit attempt: a real rollback for a transaction this scope owns, a
// rollback-only mark when participating (policy permitting). The commit
// error stays the primary one; a failing corrective rollback is only logged.
func (m *Manager) rollbackOnCommitError(ctx context.Context, status *TransactionStatus, cause error) {
	var rollbackErr error
	switch {
	case status.IsNewTransaction():
		rollbackErr = m.rm.Rollback(ctx, status)
	case status.HasTransaction() && m.cfg.GlobalRollbackOnParticipationFailure:
		rollbackErr = m.setRollbackOnly(ctx, status)
	}
	if rollbackErr != nil {
		m.log.Error("Corrective rollback after commit failure also failed",
			zap.String("txnID", status.id),
			zap.NamedError("commitError", cause),
			zap.Error(rollbackErr))
		m.triggerAfterCompletion(ctx, status, transaction.StatusUnknown)
		return
	}
	m.triggerAfterCompletion(ctx, status, transaction.StatusRolledBack)
}

// --- Rollback ---

// Rollback completes the transaction attempt behind status by rolling it
// back: directly for a transaction this scope owns, to the held savepoint
// for a nested scope, or by marking the shared transaction rollback-only
// when participating in a larger one.
func (m *Manager) Rollback(ctx context.Context, status *TransactionStatus) error {
	if status.IsCompleted() {
		return fmt.Errorf("%w: transaction is already completed - do not call commit or rollback more than once per transaction",
			transaction.ErrIllegalTransactionState)
	}
	ctx = m.statusContext(ctx, status)
	return m.processRollback(ctx, status, false)
}

// processRollback runs the rollback protocol. unexpected marks a rollback
// the caller did not ask for (a commit converted by a rollback-only mark);
// it surfaces as transaction.ErrUnexpectedRollback after the callbacks and
// cleanup have run.
func (m *Manager) processRollback(ctx context.Context, status *TransactionStatus, unexpected bool) error {
	defer m.cleanupAfterCompletion(ctx, status)

	unexpectedRollback := unexpected

	m.triggerBeforeCompletion(ctx, status)

	var rollbackErr error
	switch {
	case status.HasSavepoint():
		m.log.Debug("Rolling back transaction to savepoint", zap.String("txnID", status.id))
		rollbackErr = status.rollbackToHeldSavepoint(ctx)
	case status.IsNewTransaction():
		m.log.Debug("Initiating transaction rollback", zap.String("txnID", status.id))
		rollbackErr = m.rm.Rollback(ctx, status)
	case status.HasTransaction():
		if status.IsLocalRollbackOnly() || m.cfg.GlobalRollbackOnParticipationFailure {
			m.log.Debug("Participating transaction failed - marking existing transaction as rollback-only",
				zap.String("txnID", status.id))
			rollbackErr = m.setRollbackOnly(ctx, status)
		} else {
			m.log.Debug("Participating transaction failed - letting transaction originator decide on rollback",
				zap.String("txnID", status.id))
		}
		// A participating scope defers the actual rollback, and with it the
		// unexpected-rollback report, to the outermost boundary unless
		// configured to fail early.
		if !m.cfg.FailEarlyOnGlobalRollbackOnly {
			unexpectedRollback = false
		}
	default:
		m.log.Debug("Should roll back transaction but cannot - no transaction available",
			zap.String("txnID", status.id))
	}

	if rollbackErr != nil {
		m.log.Error("Rollback failed", zap.String("txnID", status.id), zap.Error(rollbackErr))
		m.triggerAfterCompletion(ctx, status, transaction.StatusUnknown)
		return rollbackErr
	}

	m.triggerAfterCompletion(ctx, status, transaction.StatusRolledBack)
	if unexpectedRollback {
		return fmt.Errorf("%w: transaction rolled back because it has been marked as rollback-only",
			transaction.ErrUnexpectedRollback)
	}
	return nil
}

// --- Synchronization Triggers ---

// Only the scope that opened synchronization fires callbacks; participating
// scopes stay quiet and leave all triggering to the owner.

// triggerBeforeCommit runs the before-commit callbacks in registration
// order. The first error aborts the commit.
func (m *Manager) triggerBeforeCommit(ctx context.Context, status *TransactionStatus) error {
	if !status.newSynchronization {
		return nil
	}
	syncs, err := status.tc.Synchronizations()
	if err != nil {
		return err
	}
	for _, sync := range syncs {
		if err := sync.BeforeCommit(ctx, status.IsReadOnly()); err != nil {
			return err
		}
	}
	return nil
}

// triggerBeforeCompletion runs the before-completion callbacks. Errors are
// logged and swallowed: completion is already underway and will not be
// stopped at this point.
func (m *Manager) triggerBeforeCompletion(ctx context.Context, status *TransactionStatus) {
	if !status.newSynchronization {
		return
	}
	syncs, err := status.tc.Synchronizations()
	if err != nil {
		m.log.Error("Could not collect synchronizations before completion", zap.Error(err))
		return
	}
	for _, sync := range syncs {
		if err := sync.BeforeCompletion(ctx); err != nil {
			m.log.Error("Synchronization before-completion callback failed",
				zap.String("txnID", status.id), zap.Error(err))
		}
	}
}

// triggerAfterCommit runs the after-commit callbacks in registration order.
// The first error surfaces to the committer; the commit itself is done.
func (m *Manager) triggerAfterCommit(ctx context.Context, status *TransactionStatus) error {
	if !status.newSynchronization {
		return nil
	}
	syncs, err := status.tc.Synchronizations()
	if err != nil {
		return err
	}
	for _, sync := range syncs {
		if err := sync.AfterCommit(ctx); err != nil {
			return err
		}
	}
	return nil
}

// triggerAfterCompletion records the final outcome on the status, closes the
// synchronization registry and delivers the outcome to the callbacks. A
// scope participating in a transaction it does not own cannot know the real
// outcome yet, so its callbacks are handed to the driver for deferred
// invocation, falling back to an immediate call with StatusUnknown.
func (m *Manager) triggerAfterCompletion(ctx context.Context, status *TransactionStatus, completion transaction.CompletionStatus) {
	status.outcome = completion
	if !status.newSynchronization {
		return
	}
	syncs, err := status.tc.Synchronizations()
	if err != nil {
		m.log.Error("Could not collect synchronizations after completion", zap.Error(err))
		return
	}
	if err := status.tc.ClearSynchronization(); err != nil {
		m.log.Error("Could not close synchronization registry after completion", zap.Error(err))
	}

	if !status.HasTransaction() || status.IsNewTransaction() {
		m.invokeAfterCompletion(ctx, status, syncs, completion)
		return
	}
	if len(syncs) > 0 {
		// Completion of the surrounding transaction happens outside this
		// scope, so its real outcome is not known here.
		if registrar, ok := m.rm.(AfterCompletionRegistrar); ok {
			if err := registrar.RegisterAfterCompletion(ctx, status.tx, syncs); err != nil {
				m.log.Error("Could not register after-completion callbacks with existing transaction",
					zap.String("txnID", status.id), zap.Error(err))
			}
			return
		}
		m.invokeAfterCompletion(ctx, status, syncs, transaction.StatusUnknown)
	}
}

// invokeAfterCompletion delivers the completion outcome to each callback.
// After-completion errors are logged and swallowed, the transaction outcome
// is already settled.
func (m *Manager) invokeAfterCompletion(ctx context.Context, status *TransactionStatus, syncs []transaction.Synchronization, completion transaction.CompletionStatus) {
	for _, sync := range syncs {
		if err := sync.AfterCompletion(ctx, completion); err != nil {
			m.log.Error("Synchronization after-completion callback failed",
				zap.String("txnID", status.id), zap.Error(err))
		}
	}
}

// --- Cleanup ---

// cleanupAfterCompletion finishes a transaction attempt: it marks the status
// completed, resets the flow's synchronization state if this scope owned it,
// lets the driver clean up after a transaction this scope started, and
// resumes the suspended outer transaction if one is held. Runs exactly once
// per status, whatever the outcome was.
func (m *Manager) cleanupAfterCompletion(ctx context.Context, status *TransactionStatus) {
	status.setCompleted()
	if status.newSynchronization {
		status.tc.Clear()
	}
	if status.IsNewTransaction() {
		m.cleanupResource(ctx, status.tx)
	}
	if status.suspended != nil {
		m.log.Debug("Resuming suspended transaction after completion of inner transaction",
			zap.String("txnID", status.id))
		var tx any
		if status.HasTransaction() {
			tx = status.tx
		}
		if err := m.resume(ctx, status.tc, tx, status.suspended); err != nil {
			// Never overrides the primary completion error.
			m.log.Error("Failed to resume suspended transaction during cleanup",
				zap.String("txnID", status.id), zap.Error(err))
		}
		status.suspended = nil
	}
	m.endTxnTelemetry(ctx, status)
}

// --- Execute ---

// Execute runs fn inside a transaction scope begun with def: it commits when
// fn returns nil and rolls back when fn returns an error or panics (the
// panic is re-raised after the rollback). fn receives the derived context
// carrying the transaction plus the status, for rollback-only marking or
// savepoint use. When both fn and the rollback fail, the rollback error is
// returned and fn's error is logged.
func (m *Manager) Execute(ctx context.Context, def transaction.Definition, fn func(ctx context.Context, status *TransactionStatus) error) error {
	txCtx, status, err := m.Begin(ctx, def)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			if rollbackErr := m.Rollback(txCtx, status); rollbackErr != nil {
				m.log.Error("Rollback after panic failed",
					zap.String("txnID", status.id), zap.Error(rollbackErr))
			}
			panic(r)
		}
	}()

	if fnErr := fn(txCtx, status); fnErr != nil {
		if rollbackErr := m.Rollback(txCtx, status); rollbackErr != nil {
			m.log.Error("Callback error overridden by rollback error",
				zap.String("txnID", status.id),
				zap.NamedError("callbackError", fnErr),
				zap.Error(rollbackErr))
			return rollbackErr
		}
		return fnErr
	}
	return m.Commit(txCtx, status)
}
