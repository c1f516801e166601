package transaction

import "context"

// Synchronization receives callbacks around the lifecycle of the transaction
// it is registered with. Registration is per transaction context and lasts
// until the transaction completes.
//
// Error policy: BeforeCommit errors abort the commit, AfterCommit errors
// surface to the commit caller (the data is already committed by then),
// BeforeCompletion and AfterCompletion errors are logged by the orchestrator
// and never change the outcome.
type Synchronization interface {
	// Suspend is called when the owning transaction context is suspended.
	// Implementations should unbind any resources they keep bound to the flow.
	Suspend(ctx context.Context) error
	// Resume is called when the owning transaction context is resumed.
	Resume(ctx context.Context) error
	// BeforeCommit runs while the commit decision can still be vetoed.
	BeforeCommit(ctx context.Context, readOnly bool) error
	// BeforeCompletion runs before commit or rollback work, typically to
	// release flow-bound resources.
	BeforeCompletion(ctx context.Context) error
	// AfterCommit runs once the commit succeeded.
	AfterCommit(ctx context.Context) error
	// AfterCompletion runs after commit or rollback with the final status.
	AfterCompletion(ctx context.Context, status CompletionStatus) error
}

// Ordered customizes the position of a Synchronization relative to others
// registered on the same transaction. Lower values run first, equal values
// keep registration order. Synchronizations without Ordered run at order 0.
type Ordered interface {
	Order() int
}

// BaseSynchronization is an embeddable no-op Synchronization. Embed it and
// override only the callbacks of interest. Use a pointer receiver on the
// embedding type so registration dedup works by identity.
type BaseSynchronization struct{}

func (BaseSynchronization) Suspend(context.Context) error { return nil }

func (BaseSynchronization) Resume(context.Context) error { return nil }

func (BaseSynchronization) BeforeCommit(context.Context, bool) error { return nil }

func (BaseSynchronization) BeforeCompletion(context.Context) error { return nil }

func (BaseSynchronization) AfterCommit(context.Context) error { return nil }

func (BaseSynchronization) AfterCompletion(context.Context, CompletionStatus) error { return nil }
