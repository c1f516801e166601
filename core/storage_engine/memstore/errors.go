package memstore

import "errors"

// --- Store Errors ---

var (
	// ErrNoTransaction is returned for writes outside an active store
	// transaction. Reads fall back to the committed state instead.
	ErrNoTransaction = errors.New("memstore: no transaction active")
	// ErrReadOnlyTransaction is returned for writes inside a transaction that
	// was begun read-only.
	ErrReadOnlyTransaction = errors.New("memstore: transaction is read-only")
	// ErrSavepointNotFound is returned when rolling back to or releasing a
	// savepoint this transaction does not hold.
	ErrSavepointNotFound = errors.New("memstore: savepoint not found")
	// ErrInvalidTransactionObject is returned when the orchestrator hands the
	// adapter a transaction object it did not create.
	ErrInvalidTransactionObject = errors.New("memstore: invalid transaction object")
)
