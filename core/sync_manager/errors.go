package syncmanager

import "errors"

// --- Error Definitions ---

var (
	ErrNoTransactionContext         = errors.New("no transaction context in context.Context")
	ErrResourceAlreadyBound         = errors.New("resource already bound to transaction context")
	ErrResourceNotBound             = errors.New("resource not bound to transaction context")
	ErrSynchronizationAlreadyActive = errors.New("transaction synchronization already active")
	ErrSynchronizationNotActive     = errors.New("transaction synchronization not active")
)
