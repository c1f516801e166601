package syncmanager

import (
	"fmt"
	"time"

	"github.com/sushant-115/gojotx/core/transaction"
)

// ResourceHolder is a support base for values bound into a TransactionContext,
// typically a connection or session wrapper owned by a resource manager. Embed
// it to get rollback-only marking, an advisory deadline, reference counting
// for reuse across nested scopes, and the void marker used after suspension.
//
// Like the TransactionContext that holds it, a ResourceHolder belongs to one
// logical flow and takes no locks.
type ResourceHolder struct {
	synchronizedWithTransaction bool
	rollbackOnly                bool
	deadline                    time.Time
	referenceCount              int
	isVoid                      bool
}

// SetSynchronizedWithTransaction marks the holder as participating in
// transaction synchronization.
func (h *ResourceHolder) SetSynchronizedWithTransaction(synchronized bool) {
	h.synchronizedWithTransaction = synchronized
}

func (h *ResourceHolder) IsSynchronizedWithTransaction() bool {
	return h.synchronizedWithTransaction
}

// SetRollbackOnly marks the whole resource transaction rollback-only. The
// mark is sticky until Clear.
func (h *ResourceHolder) SetRollbackOnly() {
	h.rollbackOnly = true
}

// ResetRollbackOnly withdraws the mark, for resource managers that reuse a
// holder across separate attempts. Most callers want Clear instead.
func (h *ResourceHolder) ResetRollbackOnly() {
	h.rollbackOnly = false
}

func (h *ResourceHolder) IsRollbackOnly() bool {
	return h.rollbackOnly
}

// --- Deadline ---

// SetTimeoutInSeconds sets the advisory deadline seconds from now.
func (h *ResourceHolder) SetTimeoutInSeconds(seconds int) {
	h.SetTimeout(time.Duration(seconds) * time.Second)
}

// SetTimeout sets the advisory deadline d from now.
func (h *ResourceHolder) SetTimeout(d time.Duration) {
	h.deadline = time.Now().Add(d)
}

func (h *ResourceHolder) HasTimeout() bool {
	return !h.deadline.IsZero()
}

// Deadline returns the advisory deadline and whether one is set.
func (h *ResourceHolder) Deadline() (time.Time, bool) {
	return h.deadline, !h.deadline.IsZero()
}

// TimeToLive returns the time left until the deadline. When the deadline has
// passed it marks the holder rollback-only and fails with
// transaction.ErrTransactionTimedOut.
func (h *ResourceHolder) TimeToLive() (time.Duration, error) {
	if h.deadline.IsZero() {
		return 0, fmt.Errorf("%w: no timeout set on resource holder", transaction.ErrTransactionUsage)
	}
	ttl := time.Until(h.deadline)
	if ttl <= 0 {
		h.rollbackOnly = true
		return 0, fmt.Errorf("%w: deadline was %s", transaction.ErrTransactionTimedOut, h.deadline.Format(time.RFC3339))
	}
	return ttl, nil
}

// --- Reference Counting ---

// Requested increments the reference count, one per scope that uses the held
// resource.
func (h *ResourceHolder) Requested() {
	h.referenceCount++
}

// Released decrements the reference count.
func (h *ResourceHolder) Released() {
	h.referenceCount--
}

// IsOpen reports whether any scope still references the held resource.
func (h *ResourceHolder) IsOpen() bool {
	return h.referenceCount > 0
}

// --- Lifecycle ---

// Clear resets the transactional state: synchronization flag, rollback-only
// mark and deadline. The reference count is kept.
func (h *ResourceHolder) Clear() {
	h.synchronizedWithTransaction = false
	h.rollbackOnly = false
	h.deadline = time.Time{}
}

// Reset clears the transactional state and the reference count.
func (h *ResourceHolder) Reset() {
	h.Clear()
	h.referenceCount = 0
}

// Unbound marks the holder void after it has been unbound from its
// transaction context. A void holder is evicted on the next registry access
// and may be bound over.
func (h *ResourceHolder) Unbound() {
	h.isVoid = true
}

func (h *ResourceHolder) IsVoid() bool {
	return h.isVoid
}
