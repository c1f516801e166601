package txnmanager

import (
	"context"
	"fmt"
	"time"

	syncmanager "github.com/sushant-115/gojotx/core/sync_manager"
	"github.com/sushant-115/gojotx/core/transaction"
	"go.opentelemetry.io/otel/trace"
)

// rollbackReporter is implemented by driver transaction objects that track a
// rollback-only mark on the shared resource itself, typically via the bound
// resource holder. It feeds TransactionStatus.IsGlobalRollbackOnly.
type rollbackReporter interface {
	IsRollbackOnly() bool
}

// TransactionStatus is the mutable record of one transaction attempt,
// created by Manager.Begin and finished exactly once by Manager.Commit or
// Manager.Rollback. It is owned by the flow that began it and must not be
// shared between concurrent goroutines.
type TransactionStatus struct {
	id         string
	definition transaction.Definition

	// tx is the driver's transaction object, nil for an empty scope that
	// carries synchronization only.
	tx any
	tc *syncmanager.TransactionContext

	// newTransaction records whether this attempt asked for its own
	// transaction scope; IsNewTransaction additionally requires a real
	// transaction object, so empty scopes always report false.
	newTransaction     bool
	newSynchronization bool

	suspended *suspendedResources
	savepoint any

	rollbackOnly bool
	completed    bool
	outcome      transaction.CompletionStatus

	startedAt time.Time
	span      trace.Span
}

// ID is the unique identifier of this transaction attempt, used in logs,
// traces and metrics.
func (s *TransactionStatus) ID() string {
	return s.id
}

// Definition returns the definition this attempt runs under. For attempts
// that started a new transaction the timeout is the effective one, already
// resolved against the Manager's default.
func (s *TransactionStatus) Definition() transaction.Definition {
	return s.definition
}

// Transaction returns the driver's transaction object, nil for an empty
// scope. Only the driver that produced it should look inside.
func (s *TransactionStatus) Transaction() any {
	return s.tx
}

// HasTransaction reports whether this scope is backed by a real resource
// transaction, own or inherited.
func (s *TransactionStatus) HasTransaction() bool {
	return s.tx != nil
}

// IsNewTransaction reports whether this attempt started the underlying
// transaction itself, rather than participating in an existing one or
// running empty. Commit and rollback only drive the resource manager for new
// transactions.
func (s *TransactionStatus) IsNewTransaction() bool {
	return s.tx != nil && s.newTransaction
}

// IsNewSynchronization reports whether this attempt opened the
// synchronization registry and therefore owns firing the callbacks.
func (s *TransactionStatus) IsNewSynchronization() bool {
	return s.newSynchronization
}

// IsReadOnly reports the read-only hint of this attempt's definition.
func (s *TransactionStatus) IsReadOnly() bool {
	return s.definition.ReadOnly
}

// --- Rollback-Only ---

// SetRollbackOnly forces the eventual outcome of this attempt to be a
// rollback. The mark is sticky for the rest of the attempt's lifetime;
// committing a marked attempt performs the rollback and reports
// transaction.ErrUnexpectedRollback.
func (s *TransactionStatus) SetRollbackOnly() {
	s.rollbackOnly = true
}

// IsRollbackOnly reports whether this attempt can only roll back, either
// because SetRollbackOnly was called on it or because the shared transaction
// was marked globally.
func (s *TransactionStatus) IsRollbackOnly() bool {
	return s.IsLocalRollbackOnly() || s.IsGlobalRollbackOnly()
}

// IsLocalRollbackOnly reports the mark set through SetRollbackOnly on this
// status alone.
func (s *TransactionStatus) IsLocalRollbackOnly() bool {
	return s.rollbackOnly
}

// IsGlobalRollbackOnly reports the rollback-only state of the underlying
// shared transaction, visible to every participating scope. It is fed by
// driver transaction objects exposing an IsRollbackOnly() bool method;
// others never report a global mark.
func (s *TransactionStatus) IsGlobalRollbackOnly() bool {
	if reporter, ok := s.tx.(rollbackReporter); ok {
		return reporter.IsRollbackOnly()
	}
	return false
}

// --- Completion ---

// IsCompleted reports whether commit or rollback already finished this
// attempt. A completed status rejects any further commit or rollback.
func (s *TransactionStatus) IsCompleted() bool {
	return s.completed
}

func (s *TransactionStatus) setCompleted() {
	s.completed = true
}

// Outcome returns how the attempt completed. Meaningful only once
// IsCompleted reports true.
func (s *TransactionStatus) Outcome() transaction.CompletionStatus {
	return s.outcome
}

// --- Savepoints ---

// HasSavepoint reports whether this scope holds a savepoint, which is the
// case for nested scopes realized via savepoints on the outer transaction.
func (s *TransactionStatus) HasSavepoint() bool {
	return s.savepoint != nil
}

// savepointManager returns the savepoint capability of the underlying
// transaction object.
func (s *TransactionStatus) savepointManager() (transaction.SavepointManager, error) {
	sm, ok := s.tx.(transaction.SavepointManager)
	if !ok {
		return nil, fmt.Errorf("%w: transaction object %T does not support savepoints",
			transaction.ErrNestedTransactionNotSupported, s.tx)
	}
	return sm, nil
}

// CreateSavepoint creates a savepoint on the underlying transaction for
// manual use. Most callers want PropagationNested instead, which lets the
// Manager hold and release the savepoint; the manual savepoint API exists
// for custom partial-rollback schemes inside one scope.
func (s *TransactionStatus) CreateSavepoint(ctx context.Context) (any, error) {
	sm, err := s.savepointManager()
	if err != nil {
		return nil, err
	}
	return sm.CreateSavepoint(ctx)
}

// RollbackToSavepoint rolls the underlying transaction back to a savepoint
// created through CreateSavepoint. The savepoint stays valid until released.
func (s *TransactionStatus) RollbackToSavepoint(ctx context.Context, savepoint any) error {
	sm, err := s.savepointManager()
	if err != nil {
		return err
	}
	return sm.RollbackToSavepoint(ctx, savepoint)
}

// ReleaseSavepoint releases a savepoint created through CreateSavepoint.
func (s *TransactionStatus) ReleaseSavepoint(ctx context.Context, savepoint any) error {
	sm, err := s.savepointManager()
	if err != nil {
		return err
	}
	return sm.ReleaseSavepoint(ctx, savepoint)
}

// createAndHoldSavepoint creates the savepoint backing a nested scope and
// holds it for completion: commit releases it, rollback restores it.
func (s *TransactionStatus) createAndHoldSavepoint(ctx context.Context) error {
	sm, err := s.savepointManager()
	if err != nil {
		return err
	}
	savepoint, err := sm.CreateSavepoint(ctx)
	if err != nil {
		return err
	}
	s.savepoint = savepoint
	return nil
}

// rollbackToHeldSavepoint rolls back to the held savepoint, then releases and
// clears it. A savepoint backs at most one rollback: afterwards the scope
// holds none.
func (s *TransactionStatus) rollbackToHeldSavepoint(ctx context.Context) error {
	if s.savepoint == nil {
		return fmt.Errorf("%w: cannot roll back to savepoint, none is held for this scope",
			transaction.ErrTransactionUsage)
	}
	sm, err := s.savepointManager()
	if err != nil {
		return err
	}
	if err := sm.RollbackToSavepoint(ctx, s.savepoint); err != nil {
		return err
	}
	if err := sm.ReleaseSavepoint(ctx, s.savepoint); err != nil {
		return err
	}
	s.savepoint = nil
	return nil
}

// releaseHeldSavepoint releases the held savepoint without rolling back,
// which is the whole commit of a savepoint-backed nested scope.
func (s *TransactionStatus) releaseHeldSavepoint(ctx context.Context) error {
	if s.savepoint == nil {
		return fmt.Errorf("%w: cannot release savepoint, none is held for this scope",
			transaction.ErrTransactionUsage)
	}
	sm, err := s.savepointManager()
	if err != nil {
		return err
	}
	if err := sm.ReleaseSavepoint(ctx, s.savepoint); err != nil {
		return err
	}
	s.savepoint = nil
	return nil
}

// --- Suspended Outer Context ---

// suspendedResources snapshots everything suspend() detached from the flow so
// resume() can restore the outer transaction exactly: the driver's suspended
// resource handle, the synchronization callbacks, and the four transaction
// characteristics. Consumed at most once.
type suspendedResources struct {
	resource any

	syncSuspended    bool
	synchronizations []transaction.Synchronization

	name      string
	readOnly  bool
	isolation transaction.Isolation
	wasActive bool
}
