package txnmanager

import (
	"context"
	"fmt"

	"github.com/sushant-115/gojotx/core/transaction"
)

// ResourceManager is the contract a concrete resource driver fulfills to plug
// into the Manager. The driver owns the actual resource (a database session,
// a store handle) and the transaction object it hands out; the Manager only
// decides, per the propagation rules, when each hook runs.
//
// The Manager discovers optional behavior through the narrow capability
// interfaces below (ExistingTransactionDetector, SuspendableResourceManager,
// RollbackOnlyMarker, NestedTransactionPolicy, GlobalRollbackPolicy,
// CommitPreparer, AfterCompletionRegistrar, CompletionCleaner). A driver
// implements the ones it can support; the Manager falls back to the
// documented default for the rest.
type ResourceManager interface {
	// GetTransaction returns the driver's transaction object for the current
	// flow. The object must reflect any resource already bound to the
	// transaction context carried by ctx, so that
	// ExistingTransactionDetector.IsExistingTransaction can recognize an
	// ongoing transaction. The Manager treats the object as opaque and only
	// passes it back into the other hooks.
	GetTransaction(ctx context.Context) (any, error)

	// Begin starts a new resource transaction on the given transaction
	// object. The definition always carries the effective timeout (the
	// Manager resolves transaction.TimeoutDefault against its configured
	// default first). Failures should wrap
	// transaction.ErrCannotCreateTransaction.
	Begin(ctx context.Context, tx any, def transaction.Definition) error

	// Commit makes the work of the transaction behind status durable.
	Commit(ctx context.Context, status *TransactionStatus) error

	// Rollback discards the work of the transaction behind status.
	Rollback(ctx context.Context, status *TransactionStatus) error
}

// ExistingTransactionDetector reports whether a transaction object returned
// by GetTransaction represents an already-running transaction. Drivers that
// do not implement it never participate in existing transactions: every
// getTransaction call is treated as starting from a clean flow.
type ExistingTransactionDetector interface {
	IsExistingTransaction(tx any) bool
}

// SuspendableResourceManager detaches and re-attaches the driver's resource
// from the current flow, enabling PropagationRequiresNew and
// PropagationNotSupported against an active transaction. Without it such
// requests fail with transaction.ErrTransactionSuspensionNotSupported.
type SuspendableResourceManager interface {
	// Suspend detaches the resource behind tx from the transaction context in
	// ctx and returns an opaque handle for later resumption.
	Suspend(ctx context.Context, tx any) (any, error)
	// Resume re-attaches a previously suspended resource handle.
	Resume(ctx context.Context, tx any, suspended any) error
}

// RollbackOnlyMarker marks the shared resource transaction rollback-only on
// behalf of a participating scope that failed. Drivers without it cannot
// honor participant rollbacks; the Manager then fails with
// transaction.ErrIllegalTransactionState.
type RollbackOnlyMarker interface {
	SetRollbackOnly(ctx context.Context, status *TransactionStatus) error
}

// NestedTransactionPolicy decides how PropagationNested is realized. The
// default, used when the driver does not implement this interface, is true:
// nest via a savepoint on the existing transaction object (which must then
// implement transaction.SavepointManager). Returning false makes the Manager
// call Begin for nested scopes instead, for drivers with native nested
// transactions.
type NestedTransactionPolicy interface {
	UseSavepointForNested() bool
}

// GlobalRollbackPolicy lets a driver insist on driving its commit path even
// when the transaction was marked globally rollback-only, for resource
// managers whose commit call resolves the rollback-only state itself. The
// Manager still reports transaction.ErrUnexpectedRollback to the caller
// afterwards. Default: false, roll back up front.
type GlobalRollbackPolicy interface {
	CommitOnGlobalRollbackOnly() bool
}

// CommitPreparer runs driver work at the very start of the commit protocol,
// before any synchronization callback. An error vetoes the commit and rolls
// the transaction back. Default: no preparation.
type CommitPreparer interface {
	PrepareForCommit(ctx context.Context, status *TransactionStatus) error
}

// AfterCompletionRegistrar hands after-completion callbacks over to a
// transaction the driver controls beyond the Manager's scope, so they fire
// when that surrounding transaction actually completes. Without it the
// Manager invokes the callbacks immediately with transaction.StatusUnknown,
// the outcome being undeterminable from inside the participating scope.
type AfterCompletionRegistrar interface {
	RegisterAfterCompletion(ctx context.Context, tx any, syncs []transaction.Synchronization) error
}

// CompletionCleaner releases driver state after a transaction completed, for
// example unbinding and closing the resource holder created by Begin. Runs
// exactly once per started transaction, after commit or rollback. Default:
// nothing to clean.
type CompletionCleaner interface {
	CleanupAfterCompletion(ctx context.Context, tx any)
}

// --- Capability Resolution ---

// Default-applying wrappers around the optional interfaces. Kept on the
// Manager so every call site states the fallback in exactly one place.

func (m *Manager) isExistingTransaction(tx any) bool {
	if detector, ok := m.rm.(ExistingTransactionDetector); ok {
		return detector.IsExistingTransaction(tx)
	}
	return false
}

func (m *Manager) suspendResource(ctx context.Context, tx any) (any, error) {
	suspender, ok := m.rm.(SuspendableResourceManager)
	if !ok {
		return nil, fmt.Errorf("%w: resource manager %T cannot suspend transactions",
			transaction.ErrTransactionSuspensionNotSupported, m.rm)
	}
	return suspender.Suspend(ctx, tx)
}

func (m *Manager) resumeResource(ctx context.Context, tx any, suspended any) error {
	suspender, ok := m.rm.(SuspendableResourceManager)
	if !ok {
		return fmt.Errorf("%w: resource manager %T cannot resume transactions",
			transaction.ErrTransactionSuspensionNotSupported, m.rm)
	}
	return suspender.Resume(ctx, tx, suspended)
}

func (m *Manager) setRollbackOnly(ctx context.Context, status *TransactionStatus) error {
	marker, ok := m.rm.(RollbackOnlyMarker)
	if !ok {
		return fmt.Errorf("%w: resource manager %T cannot mark an existing transaction rollback-only",
			transaction.ErrIllegalTransactionState, m.rm)
	}
	return marker.SetRollbackOnly(ctx, status)
}

func (m *Manager) useSavepointForNested() bool {
	if policy, ok := m.rm.(NestedTransactionPolicy); ok {
		return policy.UseSavepointForNested()
	}
	return true
}

func (m *Manager) commitOnGlobalRollbackOnly() bool {
	if policy, ok := m.rm.(GlobalRollbackPolicy); ok {
		return policy.CommitOnGlobalRollbackOnly()
	}
	return false
}

func (m *Manager) prepareForCommit(ctx context.Context, status *TransactionStatus) error {
	if preparer, ok := m.rm.(CommitPreparer); ok {
		return preparer.PrepareForCommit(ctx, status)
	}
	return nil
}

func (m *Manager) cleanupResource(ctx context.Context, tx any) {
	if cleaner, ok := m.rm.(CompletionCleaner); ok {
		cleaner.CleanupAfterCompletion(ctx, tx)
	}
}
