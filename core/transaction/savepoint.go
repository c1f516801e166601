package transaction

import "context"

// SavepointManager is implemented by transaction objects that can create
// savepoints, which enables nested transaction semantics without starting a
// separate physical transaction. The savepoint value is opaque to the
// orchestrator and is only ever handed back to the same transaction object.
type SavepointManager interface {
	CreateSavepoint(ctx context.Context) (any, error)
	RollbackToSavepoint(ctx context.Context, savepoint any) error
	ReleaseSavepoint(ctx context.Context, savepoint any) error
}
