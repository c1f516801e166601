package transaction

import "errors"

// --- Error Definitions ---

// Match with errors.Is; the orchestrator and resource managers wrap these with
// operation context via fmt.Errorf("...: %w", ...).
var (
	ErrIllegalTransactionState           = errors.New("illegal transaction state")
	ErrInvalidTimeout                    = errors.New("invalid transaction timeout")
	ErrNestedTransactionNotSupported     = errors.New("nested transactions not supported")
	ErrTransactionSuspensionNotSupported = errors.New("transaction suspension not supported")
	ErrUnexpectedRollback                = errors.New("transaction unexpectedly rolled back")
	ErrCannotCreateTransaction           = errors.New("could not create transaction")
	ErrTransactionUsage                  = errors.New("invalid transaction usage")
	ErrTransactionTimedOut               = errors.New("transaction timed out")
)
