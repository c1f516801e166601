package syncmanager

import (
	"context"

	"github.com/sushant-115/gojotx/core/transaction"
)

// Package-level helpers for code that only holds a context.Context, typically
// resource manager hooks and data access layers. Each resolves the
// TransactionContext carried by ctx and delegates to it.

// BindResource binds value for key on the transaction context in ctx.
func BindResource(ctx context.Context, key, value any) error {
	tc, ok := FromContext(ctx)
	if !ok {
		return ErrNoTransactionContext
	}
	return tc.BindResource(key, value)
}

// Resource returns the value bound for key, or nil when ctx carries no
// transaction context or nothing is bound.
func Resource(ctx context.Context, key any) any {
	tc, ok := FromContext(ctx)
	if !ok {
		return nil
	}
	return tc.Resource(key)
}

// HasResource reports whether ctx carries a transaction context with a live
// value bound for key.
func HasResource(ctx context.Context, key any) bool {
	tc, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return tc.HasResource(key)
}

// UnbindResource removes and returns the value bound for key.
func UnbindResource(ctx context.Context, key any) (any, error) {
	tc, ok := FromContext(ctx)
	if !ok {
		return nil, ErrNoTransactionContext
	}
	return tc.UnbindResource(key)
}

// UnbindResourceIfPossible removes the value bound for key if there is one.
func UnbindResourceIfPossible(ctx context.Context, key any) (any, bool) {
	tc, ok := FromContext(ctx)
	if !ok {
		return nil, false
	}
	return tc.UnbindResourceIfPossible(key)
}

// RegisterSynchronization registers s with the active synchronization
// registry in ctx.
func RegisterSynchronization(ctx context.Context, s transaction.Synchronization) error {
	tc, ok := FromContext(ctx)
	if !ok {
		return ErrNoTransactionContext
	}
	return tc.RegisterSynchronization(s)
}

// IsSynchronizationActive reports whether ctx carries a transaction context
// with an open synchronization registry.
func IsSynchronizationActive(ctx context.Context) bool {
	tc, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return tc.IsSynchronizationActive()
}

// IsActualTransactionActive reports whether a real transaction is active on
// the flow behind ctx.
func IsActualTransactionActive(ctx context.Context) bool {
	tc, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return tc.IsActualTransactionActive()
}

// CurrentTransactionName returns the exposed transaction name, empty for none.
func CurrentTransactionName(ctx context.Context) string {
	tc, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return tc.CurrentTransactionName()
}

// IsCurrentTransactionReadOnly reports the exposed read-only hint.
func IsCurrentTransactionReadOnly(ctx context.Context) bool {
	tc, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return tc.IsCurrentTransactionReadOnly()
}

// CurrentTransactionIsolation returns the exposed isolation level,
// IsolationDefault for none.
func CurrentTransactionIsolation(ctx context.Context) transaction.Isolation {
	tc, ok := FromContext(ctx)
	if !ok {
		return transaction.IsolationDefault
	}
	return tc.CurrentTransactionIsolation()
}
