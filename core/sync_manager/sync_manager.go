// Package syncmanager tracks the transactional state of one logical flow: the
// resources bound to it, the synchronization callbacks registered with it, and
// the characteristics (name, read-only flag, isolation level, activity flag)
// of the transaction it is running under.
//
// A TransactionContext replaces the thread-local storage a transaction
// orchestrator would use on platforms with one thread per request. It travels
// with the flow inside a context.Context and must only be touched by one
// goroutine at a time; it takes no locks of its own.
package syncmanager

import (
	"context"
	"fmt"
	"sort"

	"github.com/sushant-115/gojotx/core/transaction"
	commonutils "github.com/sushant-115/gojotx/internal/common_utils"
)

// voidable lets the registry drop resource holders that were marked dead
// after being suspended away (see ResourceHolder.Unbound).
type voidable interface {
	IsVoid() bool
}

// TransactionContext carries the per-flow transactional state. The zero value
// is not usable, call NewTransactionContext.
type TransactionContext struct {
	resources        map[any]any
	synchronizations []transaction.Synchronization
	syncActive       bool

	currentName  string
	readOnly     bool
	isolation    transaction.Isolation
	actualActive bool

	ownerGoID int64 // goroutine that created the context, for diagnostics only
}

// NewTransactionContext returns an empty transaction context owned by the
// calling flow.
func NewTransactionContext() *TransactionContext {
	return &TransactionContext{
		resources: make(map[any]any),
		ownerGoID: commonutils.GoID(),
	}
}

// OwnerGoroutine reports the id of the goroutine that created this context.
// Purely diagnostic: the context may legally migrate between goroutines as
// long as access stays sequential.
func (tc *TransactionContext) OwnerGoroutine() int64 {
	return tc.ownerGoID
}

// --- Resource Map ---

// HasResource reports whether a live value is bound for key.
func (tc *TransactionContext) HasResource(key any) bool {
	return tc.getResource(key) != nil
}

// Resource returns the value bound for key, or nil if there is none. Holders
// that became void are evicted on the way.
func (tc *TransactionContext) Resource(key any) any {
	return tc.getResource(key)
}

func (tc *TransactionContext) getResource(key any) any {
	value, ok := tc.resources[key]
	if !ok {
		return nil
	}
	if holder, ok := value.(voidable); ok && holder.IsVoid() {
		delete(tc.resources, key)
		return nil
	}
	return value
}

// BindResource binds value for key. Binding over a live value fails with
// ErrResourceAlreadyBound; a void holder is silently replaced.
func (tc *TransactionContext) BindResource(key, value any) error {
	if value == nil {
		return fmt.Errorf("cannot bind nil value for key %v", key)
	}
	old, ok := tc.resources[key]
	if ok {
		if holder, isHolder := old.(voidable); !isHolder || !holder.IsVoid() {
			return fmt.Errorf("%w: key %v already has value %v", ErrResourceAlreadyBound, key, old)
		}
	}
	tc.resources[key] = value
	return nil
}

// UnbindResource removes and returns the value bound for key, failing with
// ErrResourceNotBound when nothing live is bound.
func (tc *TransactionContext) UnbindResource(key any) (any, error) {
	value, ok := tc.unbind(key)
	if !ok {
		return nil, fmt.Errorf("%w: key %v", ErrResourceNotBound, key)
	}
	return value, nil
}

// UnbindResourceIfPossible removes the value bound for key if there is one.
func (tc *TransactionContext) UnbindResourceIfPossible(key any) (any, bool) {
	return tc.unbind(key)
}

func (tc *TransactionContext) unbind(key any) (any, bool) {
	value, ok := tc.resources[key]
	if !ok {
		return nil, false
	}
	delete(tc.resources, key)
	if holder, isHolder := value.(voidable); isHolder && holder.IsVoid() {
		return nil, false
	}
	return value, true
}

// ResourceMap returns a snapshot of the current bindings for diagnostics.
func (tc *TransactionContext) ResourceMap() map[any]any {
	snapshot := make(map[any]any, len(tc.resources))
	for k, v := range tc.resources {
		snapshot[k] = v
	}
	return snapshot
}

// --- Synchronization Registry ---

// IsSynchronizationActive reports whether synchronization has been opened for
// the current transaction context.
func (tc *TransactionContext) IsSynchronizationActive() bool {
	return tc.syncActive
}

// InitSynchronization opens the synchronization registry. Fails if it is
// already open: activation must pair 1:1 with ClearSynchronization.
func (tc *TransactionContext) InitSynchronization() error {
	if tc.syncActive {
		return ErrSynchronizationAlreadyActive
	}
	tc.syncActive = true
	tc.synchronizations = nil
	return nil
}

// ClearSynchronization closes the synchronization registry and drops all
// registered callbacks.
func (tc *TransactionContext) ClearSynchronization() error {
	if !tc.syncActive {
		return ErrSynchronizationNotActive
	}
	tc.syncActive = false
	tc.synchronizations = nil
	return nil
}

// RegisterSynchronization adds s to the registry. Registering the same
// instance twice is a no-op; implementations must be comparable, which in
// practice means pointer receivers.
func (tc *TransactionContext) RegisterSynchronization(s transaction.Synchronization) error {
	if !tc.syncActive {
		return ErrSynchronizationNotActive
	}
	for _, existing := range tc.synchronizations {
		if existing == s {
			return nil
		}
	}
	tc.synchronizations = append(tc.synchronizations, s)
	return nil
}

// Synchronizations returns a snapshot of the registered callbacks sorted by
// ascending order (see transaction.Ordered), keeping registration order for
// equal values. Mutating the snapshot does not affect the registry.
func (tc *TransactionContext) Synchronizations() ([]transaction.Synchronization, error) {
	if !tc.syncActive {
		return nil, ErrSynchronizationNotActive
	}
	snapshot := make([]transaction.Synchronization, len(tc.synchronizations))
	copy(snapshot, tc.synchronizations)
	sort.SliceStable(snapshot, func(i, j int) bool {
		return orderOf(snapshot[i]) < orderOf(snapshot[j])
	})
	return snapshot, nil
}

func orderOf(s transaction.Synchronization) int {
	if ordered, ok := s.(transaction.Ordered); ok {
		return ordered.Order()
	}
	return 0
}

// --- Transaction Characteristics ---

// SetCurrentTransactionName exposes the name of the surrounding transaction,
// empty for none. Set when a transaction begins, restored on resume.
func (tc *TransactionContext) SetCurrentTransactionName(name string) {
	tc.currentName = name
}

func (tc *TransactionContext) CurrentTransactionName() string {
	return tc.currentName
}

// SetCurrentTransactionReadOnly exposes the read-only hint of the surrounding
// transaction so resource access layers can switch into read-only mode.
func (tc *TransactionContext) SetCurrentTransactionReadOnly(readOnly bool) {
	tc.readOnly = readOnly
}

func (tc *TransactionContext) IsCurrentTransactionReadOnly() bool {
	return tc.readOnly
}

// SetCurrentTransactionIsolation exposes the isolation level of the
// surrounding transaction, IsolationDefault for none.
func (tc *TransactionContext) SetCurrentTransactionIsolation(level transaction.Isolation) {
	tc.isolation = level
}

func (tc *TransactionContext) CurrentTransactionIsolation() transaction.Isolation {
	return tc.isolation
}

// SetActualTransactionActive flags whether a real transaction, as opposed to
// a synchronization-only scope, is active on this flow.
func (tc *TransactionContext) SetActualTransactionActive(active bool) {
	tc.actualActive = active
}

func (tc *TransactionContext) IsActualTransactionActive() bool {
	return tc.actualActive
}

// Clear resets the synchronization registry and all transaction
// characteristics. Resource bindings stay: unbinding them is the resource
// managers' job.
func (tc *TransactionContext) Clear() {
	tc.syncActive = false
	tc.synchronizations = nil
	tc.currentName = ""
	tc.readOnly = false
	tc.isolation = transaction.IsolationDefault
	tc.actualActive = false
}

// --- context.Context Carrier ---

type contextKey struct{}

// NewContext returns a context carrying tc.
func NewContext(parent context.Context, tc *TransactionContext) context.Context {
	return context.WithValue(parent, contextKey{}, tc)
}

// FromContext extracts the transaction context carried by ctx, if any.
func FromContext(ctx context.Context) (*TransactionContext, bool) {
	tc, ok := ctx.Value(contextKey{}).(*TransactionContext)
	return tc, ok
}
