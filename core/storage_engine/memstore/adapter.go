package memstore

import (
	"context"
	"fmt"

	syncmanager "github.com/sushant-115/gojotx/core/sync_manager"
	"github.com/sushant-115/gojotx/core/transaction"
	txnmanager "github.com/sushant-115/gojotx/core/txn_manager"
	"go.uber.org/zap"
)

// storeTransaction is the driver transaction object the adapter hands to the
// orchestrator: a reference to the flow's StoreHolder plus whether this
// scope allocated it. It exposes the holder's rollback-only mark for global
// rollback detection and the overlay snapshots as savepoints.
type storeTransaction struct {
	holder    *StoreHolder
	newHolder bool
}

// IsRollbackOnly reports the rollback-only mark on the shared holder, which
// any participating scope may have set.
func (t *storeTransaction) IsRollbackOnly() bool {
	return t.holder != nil && t.holder.IsRollbackOnly()
}

// CreateSavepoint snapshots the overlay and returns the savepoint handle.
func (t *storeTransaction) CreateSavepoint(ctx context.Context) (any, error) {
	if t.holder == nil || !t.holder.TransactionActive() {
		return nil, ErrNoTransaction
	}
	return t.holder.createSavepoint(), nil
}

// RollbackToSavepoint restores the overlay to the named snapshot.
func (t *storeTransaction) RollbackToSavepoint(ctx context.Context, savepoint any) error {
	name, err := t.savepointName(savepoint)
	if err != nil {
		return err
	}
	return t.holder.rollbackToSavepoint(name)
}

// ReleaseSavepoint drops the named snapshot without touching the overlay.
func (t *storeTransaction) ReleaseSavepoint(ctx context.Context, savepoint any) error {
	name, err := t.savepointName(savepoint)
	if err != nil {
		return err
	}
	return t.holder.releaseSavepoint(name)
}

func (t *storeTransaction) savepointName(savepoint any) (string, error) {
	if t.holder == nil || !t.holder.TransactionActive() {
		return "", ErrNoTransaction
	}
	name, ok := savepoint.(string)
	if !ok {
		return "", fmt.Errorf("%w: unexpected savepoint handle of type %T", ErrSavepointNotFound, savepoint)
	}
	return name, nil
}

// Adapter plugs a Store into the txnmanager orchestrator. One adapter per
// store; the orchestrator calls it from any flow, with all flow state kept
// in the bound StoreHolder.
type Adapter struct {
	store *Store
	log   *zap.Logger
}

// NewAdapter creates the resource manager for store. A nil logger disables
// logging.
func NewAdapter(store *Store, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{store: store, log: log}
}

// GetTransaction picks up the StoreHolder bound to the flow, if any.
func (a *Adapter) GetTransaction(ctx context.Context) (any, error) {
	return &storeTransaction{holder: a.store.boundHolder(ctx)}, nil
}

// IsExistingTransaction reports whether the picked-up holder already runs an
// active store transaction.
func (a *Adapter) IsExistingTransaction(tx any) bool {
	st, ok := tx.(*storeTransaction)
	return ok && st.holder != nil && st.holder.TransactionActive()
}

// Begin starts a store transaction: it allocates a fresh holder unless an
// unclaimed one is already in place, marks it active with the definition's
// read-only flag and deadline, and binds it to the flow.
func (a *Adapter) Begin(ctx context.Context, tx any, def transaction.Definition) error {
	st, ok := tx.(*storeTransaction)
	if !ok {
		return fmt.Errorf("%w: %T", ErrInvalidTransactionObject, tx)
	}
	if st.holder == nil || st.holder.IsSynchronizedWithTransaction() {
		st.holder = newStoreHolder(a.store)
		st.newHolder = true
	}
	st.holder.SetSynchronizedWithTransaction(true)
	st.holder.setTransactionActive(true)
	st.holder.setReadOnly(def.ReadOnly)
	if def.Timeout > 0 {
		st.holder.SetTimeoutInSeconds(def.Timeout)
	}
	if st.newHolder {
		if err := syncmanager.BindResource(ctx, a.store, st.holder); err != nil {
			return err
		}
	}
	a.log.Debug("Store transaction started",
		zap.Bool("readOnly", def.ReadOnly), zap.Int("timeout", def.Timeout))
	return nil
}

// Commit applies the overlay to the committed state.
func (a *Adapter) Commit(ctx context.Context, status *txnmanager.TransactionStatus) error {
	st, err := a.transactionOf(status)
	if err != nil {
		return err
	}
	a.log.Debug("Committing store transaction",
		zap.String("txnID", status.ID()), zap.Int("writes", len(st.holder.overlay)))
	st.holder.commitToStore()
	return nil
}

// Rollback discards the overlay. The holder stays usable for callbacks until
// cleanup runs.
func (a *Adapter) Rollback(ctx context.Context, status *txnmanager.TransactionStatus) error {
	st, err := a.transactionOf(status)
	if err != nil {
		return err
	}
	a.log.Debug("Rolling back store transaction",
		zap.String("txnID", status.ID()), zap.Int("discarded", len(st.holder.overlay)))
	st.holder.overlay = make(map[string]*string)
	st.holder.savepoints = nil
	return nil
}

// SetRollbackOnly marks the shared holder, making the whole store
// transaction unsalvageable for every participant.
func (a *Adapter) SetRollbackOnly(ctx context.Context, status *txnmanager.TransactionStatus) error {
	st, err := a.transactionOf(status)
	if err != nil {
		return err
	}
	a.log.Debug("Marking store transaction rollback-only", zap.String("txnID", status.ID()))
	st.holder.SetRollbackOnly()
	return nil
}

// Suspend detaches the flow's holder and returns it as the suspended handle.
func (a *Adapter) Suspend(ctx context.Context, tx any) (any, error) {
	st, ok := tx.(*storeTransaction)
	if !ok || st.holder == nil {
		return nil, fmt.Errorf("%w: %T", ErrInvalidTransactionObject, tx)
	}
	if _, err := syncmanager.UnbindResource(ctx, a.store); err != nil {
		return nil, err
	}
	holder := st.holder
	st.holder = nil
	return holder, nil
}

// Resume rebinds a previously suspended holder to the flow.
func (a *Adapter) Resume(ctx context.Context, tx any, suspended any) error {
	holder, ok := suspended.(*StoreHolder)
	if !ok {
		return fmt.Errorf("%w: unexpected suspended resource of type %T", ErrInvalidTransactionObject, suspended)
	}
	return syncmanager.BindResource(ctx, a.store, holder)
}

// UseSavepointForNested opts in to savepoint-backed nested scopes; the store
// has no native nesting.
func (a *Adapter) UseSavepointForNested() bool {
	return true
}

// PrepareForCommit vetoes the commit when the transaction's deadline has
// already passed.
func (a *Adapter) PrepareForCommit(ctx context.Context, status *txnmanager.TransactionStatus) error {
	st, err := a.transactionOf(status)
	if err != nil {
		return err
	}
	if st.holder.HasTimeout() {
		if _, err := st.holder.TimeToLive(); err != nil {
			return err
		}
	}
	return nil
}

// CleanupAfterCompletion unbinds the holder this scope allocated and drops
// all of its transactional state.
func (a *Adapter) CleanupAfterCompletion(ctx context.Context, tx any) {
	st, ok := tx.(*storeTransaction)
	if !ok || st.holder == nil {
		return
	}
	if st.newHolder {
		syncmanager.UnbindResourceIfPossible(ctx, a.store)
	}
	st.holder.resetTransaction()
}

func (a *Adapter) transactionOf(status *txnmanager.TransactionStatus) (*storeTransaction, error) {
	st, ok := status.Transaction().(*storeTransaction)
	if !ok || st.holder == nil {
		return nil, fmt.Errorf("%w: %T", ErrInvalidTransactionObject, status.Transaction())
	}
	return st, nil
}
