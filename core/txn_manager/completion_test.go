package txnmanager

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	syncmanager "github.com/sushant-115/gojotx/core/sync_manager"
	"github.com/sushant-115/gojotx/core/transaction"
)

// --- Test Helpers ---

// beginWithSync begins a REQUIRED transaction and registers a recording
// synchronization on it.
func beginWithSync(t *testing.T, m *Manager, journal *[]string, label string) (context.Context, *TransactionStatus, *recordingSync) {
	t.Helper()
	ctx, status, err := m.Begin(context.Background(), transaction.NewDefinition())
	require.NoError(t, err)
	sync := &recordingSync{journal: journal, label: label}
	require.NoError(t, syncmanager.RegisterSynchronization(ctx, sync))
	return ctx, status, sync
}

// --- Test Cases ---

// TestCommit_ProtocolOrder verifies the complete commit protocol for a new
// transaction: driver preparation, the callback stages around the actual
// commit, and the final cleanup, all in their fixed order.
func TestCommit_ProtocolOrder(t *testing.T) {
	d := newMockDriver()
	m := newTestManager(t, d, nil)
	var journal []string

	ctx, status, _ := beginWithSync(t, m, &journal, "audit")
	require.NoError(t, m.Commit(ctx, status))

	require.Equal(t, []string{
		"GetTransaction", "Begin(REQUIRED)",
		"PrepareForCommit", "Commit", "Cleanup",
	}, d.calls)
	require.Equal(t, []string{
		"audit:beforeCommit",
		"audit:beforeCompletion",
		"audit:afterCommit",
		"audit:afterCompletion:COMMITTED",
	}, journal)
	require.Equal(t, transaction.StatusCommitted, status.Outcome())
	require.True(t, status.IsCompleted())
}

// TestRollback_ProtocolOrder verifies the rollback protocol: no commit
// stages run, before-completion still fires ahead of the driver rollback and
// the callbacks learn the ROLLED_BACK outcome.
func TestRollback_ProtocolOrder(t *testing.T) {
	d := newMockDriver()
	m := newTestManager(t, d, nil)
	var journal []string

	ctx, status, _ := beginWithSync(t, m, &journal, "audit")
	require.NoError(t, m.Rollback(ctx, status))

	require.Equal(t, []string{
		"GetTransaction", "Begin(REQUIRED)",
		"Rollback", "Cleanup",
	}, d.calls)
	require.Equal(t, []string{
		"audit:beforeCompletion",
		"audit:afterCompletion:ROLLED_BACK",
	}, journal)
	require.Equal(t, transaction.StatusRolledBack, status.Outcome())
}

// TestCompletion_SingleUse verifies that a completed status rejects any
// further completion attempt, in every combination.
func TestCompletion_SingleUse(t *testing.T) {
	d := newMockDriver()
	m := newTestManager(t, d, nil)

	ctx, status, err := m.Begin(context.Background(), transaction.NewDefinition())
	require.NoError(t, err)
	require.NoError(t, m.Commit(ctx, status))
	require.ErrorIs(t, m.Commit(ctx, status), transaction.ErrIllegalTransactionState)
	require.ErrorIs(t, m.Rollback(ctx, status), transaction.ErrIllegalTransactionState)

	ctx, status, err = m.Begin(context.Background(), transaction.NewDefinition())
	require.NoError(t, err)
	require.NoError(t, m.Rollback(ctx, status))
	require.ErrorIs(t, m.Rollback(ctx, status), transaction.ErrIllegalTransactionState)
	require.ErrorIs(t, m.Commit(ctx, status), transaction.ErrIllegalTransactionState)

	require.Equal(t, 1, callCount(d.calls, "Commit"))
	require.Equal(t, 1, callCount(d.calls, "Rollback"))
}

// TestCommit_LocalRollbackOnly verifies that committing a scope marked
// rollback-only through its status performs a rollback and reports it with
// ErrUnexpectedRollback.
func TestCommit_LocalRollbackOnly(t *testing.T) {
	d := newMockDriver()
	m := newTestManager(t, d, nil)

	ctx, status, err := m.Begin(context.Background(), transaction.NewDefinition())
	require.NoError(t, err)
	status.SetRollbackOnly()
	require.True(t, status.IsRollbackOnly())

	err = m.Commit(ctx, status)
	require.ErrorIs(t, err, transaction.ErrUnexpectedRollback)
	require.Equal(t, 1, callCount(d.calls, "Rollback"))
	require.Equal(t, 0, callCount(d.calls, "Commit"))
	require.Equal(t, transaction.StatusRolledBack, status.Outcome())
	require.True(t, status.IsRollbackOnly(), "the mark stays for the status lifetime")
}

// TestCommit_GlobalRollbackOnly verifies the deferred global rollback-only
// report: a participating rollback marks the shared transaction, the
// participant itself stays silent, and the outermost commit turns into a
// rollback reported with ErrUnexpectedRollback.
func TestCommit_GlobalRollbackOnly(t *testing.T) {
	d := newMockDriver()
	m := newTestManager(t, d, nil)
	var journal []string

	ctx, outer, _ := beginWithSync(t, m, &journal, "outer")

	_, inner, err := m.Begin(ctx, transaction.NewDefinition())
	require.NoError(t, err)
	require.NoError(t, m.Rollback(ctx, inner), "participating rollback must stay silent")
	require.Equal(t, 1, callCount(d.calls, "SetRollbackOnly"))
	require.Equal(t, 0, callCount(d.calls, "Rollback"))
	require.True(t, outer.IsGlobalRollbackOnly())
	require.False(t, outer.IsLocalRollbackOnly())

	err = m.Commit(ctx, outer)
	require.ErrorIs(t, err, transaction.ErrUnexpectedRollback)
	require.Equal(t, 1, callCount(d.calls, "Rollback"))
	require.Equal(t, 0, callCount(d.calls, "Commit"))
	require.Equal(t, transaction.StatusRolledBack, outer.Outcome())
	require.Contains(t, journal, "outer:afterCompletion:ROLLED_BACK")
	require.NotContains(t, journal, "outer:beforeCommit", "rollback conversion must skip the commit stages")
}

// TestCommit_GlobalRollbackOnlyCommitAnyway verifies the driver override: a
// driver insisting on committing despite the global mark gets its commit
// call, but the unexpected rollback is still reported to the caller.
func TestCommit_GlobalRollbackOnlyCommitAnyway(t *testing.T) {
	d := newMockDriver()
	d.commitOnGlobalRollbackOnly = true
	m := newTestManager(t, d, nil)

	ctx, outer, err := m.Begin(context.Background(), transaction.NewDefinition())
	require.NoError(t, err)
	_, inner, err := m.Begin(ctx, transaction.NewDefinition())
	require.NoError(t, err)
	require.NoError(t, m.Rollback(ctx, inner))

	err = m.Commit(ctx, outer)
	require.ErrorIs(t, err, transaction.ErrUnexpectedRollback)
	require.Equal(t, 1, callCount(d.calls, "Commit"), "driver policy demands the commit attempt")
	require.Equal(t, 0, callCount(d.calls, "Rollback"))
	require.Equal(t, transaction.StatusRolledBack, outer.Outcome())
}

// TestCommit_FailEarlyOnGlobalRollbackOnly verifies the fail-early policy:
// with it enabled the first participating completion after the mark reports
// the unexpected rollback instead of waiting for the outermost boundary;
// without it the participant completes silently.
func TestCommit_FailEarlyOnGlobalRollbackOnly(t *testing.T) {
	t.Run("enabled", func(t *testing.T) {
		d := newMockDriver()
		m := newTestManager(t, d, func(cfg *Config) { cfg.FailEarlyOnGlobalRollbackOnly = true })

		ctx, outer, err := m.Begin(context.Background(), transaction.NewDefinition())
		require.NoError(t, err)
		_, first, err := m.Begin(ctx, transaction.NewDefinition())
		require.NoError(t, err)
		require.NoError(t, m.Rollback(ctx, first), "an explicit rollback is never unexpected")

		_, second, err := m.Begin(ctx, transaction.NewDefinition())
		require.NoError(t, err)
		require.ErrorIs(t, m.Commit(ctx, second), transaction.ErrUnexpectedRollback)
		require.Equal(t, 0, callCount(d.calls, "Commit"))

		require.ErrorIs(t, m.Commit(ctx, outer), transaction.ErrUnexpectedRollback)
		require.Equal(t, 1, callCount(d.calls, "Rollback"))
	})

	t.Run("disabled", func(t *testing.T) {
		d := newMockDriver()
		m := newTestManager(t, d, nil)

		ctx, outer, err := m.Begin(context.Background(), transaction.NewDefinition())
		require.NoError(t, err)
		_, first, err := m.Begin(ctx, transaction.NewDefinition())
		require.NoError(t, err)
		require.NoError(t, m.Rollback(ctx, first))

		_, second, err := m.Begin(ctx, transaction.NewDefinition())
		require.NoError(t, err)
		require.NoError(t, m.Commit(ctx, second), "participant stays silent by default")

		require.ErrorIs(t, m.Commit(ctx, outer), transaction.ErrUnexpectedRollback)
	})
}

// TestCommit_BeforeCommitVeto verifies that a before-commit callback error
// vetoes the commit: the transaction rolls back, the veto error surfaces,
// and later callbacks still learn the completion.
func TestCommit_BeforeCommitVeto(t *testing.T) {
	d := newMockDriver()
	m := newTestManager(t, d, nil)
	var journal []string

	ctx, status, err := m.Begin(context.Background(), transaction.NewDefinition())
	require.NoError(t, err)
	veto := errors.New("stale balance snapshot")
	first := &recordingSync{journal: &journal, label: "first", order: 1, beforeCommitErr: veto}
	second := &recordingSync{journal: &journal, label: "second", order: 2}
	require.NoError(t, syncmanager.RegisterSynchronization(ctx, first))
	require.NoError(t, syncmanager.RegisterSynchronization(ctx, second))

	err = m.Commit(ctx, status)
	require.ErrorIs(t, err, veto)
	require.Equal(t, 1, callCount(d.calls, "Rollback"), "veto must trigger the corrective rollback")
	require.Equal(t, 0, callCount(d.calls, "Commit"))
	require.Equal(t, transaction.StatusRolledBack, status.Outcome())
	require.Equal(t, []string{
		"first:beforeCommit",
		"first:beforeCompletion", "second:beforeCompletion",
		"first:afterCompletion:ROLLED_BACK", "second:afterCompletion:ROLLED_BACK",
	}, journal, "the veto aborts remaining before-commit callbacks and skips after-commit")
}

// TestCommit_PrepareVeto verifies that the driver's own commit preparation
// can veto the commit the same way a before-commit callback does.
func TestCommit_PrepareVeto(t *testing.T) {
	d := newMockDriver()
	d.prepareErr = errors.New("resource deadline exceeded")
	m := newTestManager(t, d, nil)
	var journal []string

	ctx, status, _ := beginWithSync(t, m, &journal, "audit")
	err := m.Commit(ctx, status)
	require.ErrorIs(t, err, d.prepareErr)
	require.Equal(t, 1, callCount(d.calls, "Rollback"))
	require.NotContains(t, journal, "audit:beforeCommit", "preparation runs before any callback")
	require.Contains(t, journal, "audit:afterCompletion:ROLLED_BACK")
}

// TestCommit_DriverFailure verifies the commit-failure policies: by default
// the outcome is unknown and the driver error surfaces; with
// RollbackOnCommitFailure a corrective rollback runs; a driver resolving the
// commit into a rollback on its own is taken at its word.
func TestCommit_DriverFailure(t *testing.T) {
	t.Run("default leaves outcome unknown", func(t *testing.T) {
		d := newMockDriver()
		d.commitErr = errors.New("disk full")
		m := newTestManager(t, d, nil)

		ctx, status, err := m.Begin(context.Background(), transaction.NewDefinition())
		require.NoError(t, err)
		err = m.Commit(ctx, status)
		require.ErrorIs(t, err, d.commitErr)
		require.Equal(t, 0, callCount(d.calls, "Rollback"))
		require.Equal(t, transaction.StatusUnknown, status.Outcome())
		require.True(t, status.IsCompleted())
	})

	t.Run("corrective rollback", func(t *testing.T) {
		d := newMockDriver()
		d.commitErr = errors.New("disk full")
		m := newTestManager(t, d, func(cfg *Config) { cfg.RollbackOnCommitFailure = true })

		ctx, status, err := m.Begin(context.Background(), transaction.NewDefinition())
		require.NoError(t, err)
		err = m.Commit(ctx, status)
		require.ErrorIs(t, err, d.commitErr)
		require.Equal(t, 1, callCount(d.calls, "Rollback"))
		require.Equal(t, transaction.StatusRolledBack, status.Outcome())
	})

	t.Run("driver reports rollback", func(t *testing.T) {
		d := newMockDriver()
		d.commitErr = fmt.Errorf("lock conflict: %w", transaction.ErrUnexpectedRollback)
		m := newTestManager(t, d, func(cfg *Config) { cfg.RollbackOnCommitFailure = true })

		ctx, status, err := m.Begin(context.Background(), transaction.NewDefinition())
		require.NoError(t, err)
		err = m.Commit(ctx, status)
		require.ErrorIs(t, err, transaction.ErrUnexpectedRollback)
		require.Equal(t, 0, callCount(d.calls, "Rollback"),
			"the driver already rolled back, no corrective attempt")
		require.Equal(t, transaction.StatusRolledBack, status.Outcome())
	})
}

// TestCommit_AfterCommitError verifies that an after-commit callback error
// surfaces to the committer while the transaction stays committed.
func TestCommit_AfterCommitError(t *testing.T) {
	d := newMockDriver()
	m := newTestManager(t, d, nil)
	var journal []string

	ctx, status, sync := beginWithSync(t, m, &journal, "audit")
	sync.afterCommitErr = errors.New("audit sink unavailable")

	err := m.Commit(ctx, status)
	require.ErrorIs(t, err, sync.afterCommitErr)
	require.Equal(t, 1, callCount(d.calls, "Commit"))
	require.Equal(t, transaction.StatusCommitted, status.Outcome())
	require.Contains(t, journal, "audit:afterCompletion:COMMITTED")
}

// TestCommit_SecondaryCallbackErrorsSwallowed verifies that before-completion
// and after-completion callback errors never fail the commit.
func TestCommit_SecondaryCallbackErrorsSwallowed(t *testing.T) {
	d := newMockDriver()
	m := newTestManager(t, d, nil)
	var journal []string

	ctx, status, sync := beginWithSync(t, m, &journal, "audit")
	sync.beforeCompletionErr = errors.New("listener gone")
	sync.afterCompletionErr = errors.New("listener gone")

	require.NoError(t, m.Commit(ctx, status))
	require.Equal(t, 1, callCount(d.calls, "Commit"))
	require.Equal(t, transaction.StatusCommitted, status.Outcome())
}

// TestRollback_ParticipatingWithoutGlobalMark verifies the opt-out: with
// GlobalRollbackOnParticipationFailure disabled a participant rollback
// leaves no mark and the originator's commit goes through.
func TestRollback_ParticipatingWithoutGlobalMark(t *testing.T) {
	d := newMockDriver()
	m := newTestManager(t, d, func(cfg *Config) { cfg.GlobalRollbackOnParticipationFailure = false })

	ctx, outer, err := m.Begin(context.Background(), transaction.NewDefinition())
	require.NoError(t, err)
	_, inner, err := m.Begin(ctx, transaction.NewDefinition())
	require.NoError(t, err)

	require.NoError(t, m.Rollback(ctx, inner))
	require.Equal(t, 0, callCount(d.calls, "SetRollbackOnly"))
	require.False(t, outer.IsGlobalRollbackOnly())

	require.NoError(t, m.Commit(ctx, outer))
	require.Equal(t, 1, callCount(d.calls, "Commit"))
}

// TestRollback_DriverFailure verifies that a failing driver rollback leaves
// the outcome unknown and surfaces the driver error.
func TestRollback_DriverFailure(t *testing.T) {
	d := newMockDriver()
	d.rollbackErr = errors.New("connection lost")
	m := newTestManager(t, d, nil)

	ctx, status, err := m.Begin(context.Background(), transaction.NewDefinition())
	require.NoError(t, err)
	err = m.Rollback(ctx, status)
	require.ErrorIs(t, err, d.rollbackErr)
	require.Equal(t, transaction.StatusUnknown, status.Outcome())
	require.True(t, status.IsCompleted())
}

// TestParticipatingCallbacks_DeferredToOwner verifies what happens to
// callbacks registered by a participating scope that opened its own
// synchronization: a capable driver takes them over for invocation at the
// real completion, otherwise they run immediately with the UNKNOWN outcome.
func TestParticipatingCallbacks_DeferredToOwner(t *testing.T) {
	t.Run("driver takes them over", func(t *testing.T) {
		d := newMockDriver()
		owner := newTestManager(t, d, func(cfg *Config) { cfg.Synchronization = SyncNever })
		participant := newTestManager(t, d, nil)
		var journal []string

		ctx, outer, err := owner.Begin(context.Background(), transaction.NewDefinition())
		require.NoError(t, err)
		innerCtx, inner, err := participant.Begin(ctx, transaction.NewDefinition())
		require.NoError(t, err)
		require.False(t, inner.IsNewTransaction())
		require.True(t, inner.IsNewSynchronization())

		sync := &recordingSync{journal: &journal, label: "late"}
		require.NoError(t, syncmanager.RegisterSynchronization(innerCtx, sync))

		require.NoError(t, participant.Commit(innerCtx, inner))
		require.Equal(t, 1, callCount(d.calls, "RegisterAfterCompletion"))
		require.Len(t, d.deferredSyncs, 1)
		require.Equal(t, []string{"late:beforeCommit", "late:beforeCompletion", "late:afterCommit"},
			journal, "a capable driver takes over after-completion instead of invoking it")

		require.NoError(t, owner.Commit(ctx, outer))
	})

	t.Run("fallback invokes with unknown outcome", func(t *testing.T) {
		d := &detectingDriver{existing: true}
		m := newTestManager(t, d, nil)
		var journal []string

		ctx, join, err := m.Begin(context.Background(), transaction.NewDefinition())
		require.NoError(t, err)
		require.False(t, join.IsNewTransaction())
		sync := &recordingSync{journal: &journal, label: "late"}
		require.NoError(t, syncmanager.RegisterSynchronization(ctx, sync))

		require.NoError(t, m.Commit(ctx, join))
		require.Contains(t, journal, "late:afterCompletion:UNKNOWN")
	})
}

// TestCommit_EmptyScope verifies completion of scopes without any
// transaction: a plain commit succeeds without driver involvement, and a
// rollback-only mark still converts the commit into a reported rollback.
func TestCommit_EmptyScope(t *testing.T) {
	t.Run("plain commit", func(t *testing.T) {
		d := newMockDriver()
		m := newTestManager(t, d, nil)

		ctx, status, err := m.Begin(context.Background(), defWith(transaction.PropagationSupports))
		require.NoError(t, err)
		require.False(t, status.HasTransaction())
		require.NoError(t, m.Commit(ctx, status))
		require.Equal(t, 0, callCount(d.calls, "Commit"))
		require.Equal(t, transaction.StatusCommitted, status.Outcome())
	})

	t.Run("rollback-only mark reports", func(t *testing.T) {
		d := newMockDriver()
		m := newTestManager(t, d, nil)

		ctx, status, err := m.Begin(context.Background(), defWith(transaction.PropagationSupports))
		require.NoError(t, err)
		status.SetRollbackOnly()
		err = m.Commit(ctx, status)
		require.ErrorIs(t, err, transaction.ErrUnexpectedRollback)
		require.Equal(t, 0, callCount(d.calls, "Rollback"))
		require.Equal(t, transaction.StatusRolledBack, status.Outcome())
	})
}

// TestBegin_SuspendFailures verifies the recovery paths when suspension
// itself fails: the already-suspended synchronizations are reactivated and
// the flow is left as it was.
func TestBegin_SuspendFailures(t *testing.T) {
	t.Run("driver suspend fails", func(t *testing.T) {
		d := newMockDriver()
		d.suspendErr = errors.New("resource busy")
		m := newTestManager(t, d, nil)
		var journal []string

		ctx, outer, _ := beginWithSync(t, m, &journal, "outer")
		_, _, err := m.Begin(ctx, defWith(transaction.PropagationRequiresNew))
		require.ErrorIs(t, err, d.suspendErr)
		require.Equal(t, []string{"outer:suspend", "outer:resume"}, journal,
			"suspended callbacks must be reactivated after the failure")
		require.True(t, syncmanager.IsSynchronizationActive(ctx))

		d.suspendErr = nil
		journal = journal[:0]
		require.NoError(t, m.Commit(ctx, outer))
		require.Contains(t, journal, "outer:afterCompletion:COMMITTED")
	})

	t.Run("synchronization suspend fails", func(t *testing.T) {
		d := newMockDriver()
		m := newTestManager(t, d, nil)
		var journal []string

		ctx, outer, err := m.Begin(context.Background(), transaction.NewDefinition())
		require.NoError(t, err)
		failure := errors.New("handle pinned")
		first := &recordingSync{journal: &journal, label: "first", order: 1}
		second := &recordingSync{journal: &journal, label: "second", order: 2, suspendErr: failure}
		require.NoError(t, syncmanager.RegisterSynchronization(ctx, first))
		require.NoError(t, syncmanager.RegisterSynchronization(ctx, second))

		_, _, err = m.Begin(ctx, defWith(transaction.PropagationRequiresNew))
		require.ErrorIs(t, err, failure)
		require.Equal(t, []string{"first:suspend", "second:suspend", "first:resume"}, journal,
			"callbacks suspended before the failure must be resumed")
		require.True(t, syncmanager.IsSynchronizationActive(ctx))
		require.Equal(t, 0, callCount(d.calls, "Suspend"), "the driver must not be reached")

		require.NoError(t, m.Rollback(ctx, outer))
	})
}

// TestCleanup_ResumeFailureDoesNotMaskOutcome verifies that a failing resume
// during cleanup is only logged: the inner transaction's completion result
// stands.
func TestCleanup_ResumeFailureDoesNotMaskOutcome(t *testing.T) {
	d := newMockDriver()
	m := newTestManager(t, d, nil)

	ctx, _, err := m.Begin(context.Background(), transaction.NewDefinition())
	require.NoError(t, err)
	innerCtx, inner, err := m.Begin(ctx, defWith(transaction.PropagationRequiresNew))
	require.NoError(t, err)

	d.resumeErr = errors.New("resume wedged")
	require.NoError(t, m.Commit(innerCtx, inner), "the inner commit result must stand")
	require.Equal(t, transaction.StatusCommitted, inner.Outcome())
	require.Equal(t, 1, callCount(d.calls, "Resume"))
}

// TestNested_SavepointFailures verifies error propagation around held
// savepoints: a failing creation aborts the nested begin, a failing rollback
// to the savepoint leaves the nested outcome unknown.
func TestNested_SavepointFailures(t *testing.T) {
	t.Run("create fails", func(t *testing.T) {
		d := newMockDriver()
		d.createSavepointErr = errors.New("savepoint quota exceeded")
		m := newTestManager(t, d, nil)

		ctx, outer, err := m.Begin(context.Background(), transaction.NewDefinition())
		require.NoError(t, err)
		_, _, err = m.Begin(ctx, defWith(transaction.PropagationNested))
		require.ErrorIs(t, err, d.createSavepointErr)
		require.NoError(t, m.Rollback(ctx, outer))
	})

	t.Run("rollback to savepoint fails", func(t *testing.T) {
		d := newMockDriver()
		m := newTestManager(t, d, nil)

		ctx, _, err := m.Begin(context.Background(), transaction.NewDefinition())
		require.NoError(t, err)
		innerCtx, inner, err := m.Begin(ctx, defWith(transaction.PropagationNested))
		require.NoError(t, err)

		d.rollbackToSavepointErr = errors.New("savepoint lost")
		err = m.Rollback(innerCtx, inner)
		require.ErrorIs(t, err, d.rollbackToSavepointErr)
		require.Equal(t, transaction.StatusUnknown, inner.Outcome())
	})
}

// TestExecute verifies the functional wrapper around Begin/Commit/Rollback.
func TestExecute(t *testing.T) {
	t.Run("commit on success", func(t *testing.T) {
		d := newMockDriver()
		m := newTestManager(t, d, nil)

		var seenStatus *TransactionStatus
		err := m.Execute(context.Background(), transaction.NewDefinition(),
			func(ctx context.Context, status *TransactionStatus) error {
				seenStatus = status
				require.True(t, syncmanager.IsActualTransactionActive(ctx))
				return nil
			})
		require.NoError(t, err)
		require.Equal(t, 1, callCount(d.calls, "Commit"))
		require.Equal(t, transaction.StatusCommitted, seenStatus.Outcome())
	})

	t.Run("rollback on error", func(t *testing.T) {
		d := newMockDriver()
		m := newTestManager(t, d, nil)

		failure := errors.New("insufficient funds")
		err := m.Execute(context.Background(), transaction.NewDefinition(),
			func(ctx context.Context, status *TransactionStatus) error {
				return failure
			})
		require.ErrorIs(t, err, failure)
		require.Equal(t, 1, callCount(d.calls, "Rollback"))
		require.Equal(t, 0, callCount(d.calls, "Commit"))
	})

	t.Run("rollback error takes precedence", func(t *testing.T) {
		d := newMockDriver()
		d.rollbackErr = errors.New("connection lost")
		m := newTestManager(t, d, nil)

		failure := errors.New("insufficient funds")
		err := m.Execute(context.Background(), transaction.NewDefinition(),
			func(ctx context.Context, status *TransactionStatus) error {
				return failure
			})
		require.ErrorIs(t, err, d.rollbackErr)
		require.NotErrorIs(t, err, failure)
	})

	t.Run("rollback and re-panic on panic", func(t *testing.T) {
		d := newMockDriver()
		m := newTestManager(t, d, nil)

		require.PanicsWithValue(t, "boom", func() {
			_ = m.Execute(context.Background(), transaction.NewDefinition(),
				func(ctx context.Context, status *TransactionStatus) error {
					panic("boom")
				})
		})
		require.Equal(t, 1, callCount(d.calls, "Rollback"))
		require.Equal(t, 0, callCount(d.calls, "Commit"))
	})

	t.Run("begin failure short-circuits", func(t *testing.T) {
		d := newMockDriver()
		m := newTestManager(t, d, nil)

		called := false
		err := m.Execute(context.Background(), defWith(transaction.PropagationMandatory),
			func(ctx context.Context, status *TransactionStatus) error {
				called = true
				return nil
			})
		require.ErrorIs(t, err, transaction.ErrIllegalTransactionState)
		require.False(t, called)
	})
}

// TestRollbackOnly_MarkIsMonotonic verifies that nothing between the mark
// and completion resets it, across both the local and the global route.
func TestRollbackOnly_MarkIsMonotonic(t *testing.T) {
	d := newMockDriver()
	m := newTestManager(t, d, nil)

	ctx, outer, err := m.Begin(context.Background(), transaction.NewDefinition())
	require.NoError(t, err)

	_, inner, err := m.Begin(ctx, transaction.NewDefinition())
	require.NoError(t, err)
	inner.SetRollbackOnly()
	require.True(t, inner.IsLocalRollbackOnly())

	// The inner commit converts to a participating rollback: silent at this
	// boundary, but from here on the shared transaction carries the mark.
	require.NoError(t, m.Commit(ctx, inner))
	require.Equal(t, 1, callCount(d.calls, "SetRollbackOnly"))
	require.True(t, outer.IsGlobalRollbackOnly())

	// Reads must not clear the mark.
	require.True(t, outer.IsRollbackOnly())
	require.True(t, outer.IsGlobalRollbackOnly())

	err = m.Commit(ctx, outer)
	require.ErrorIs(t, err, transaction.ErrUnexpectedRollback)
}
