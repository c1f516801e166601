package txnmanager

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sushant-115/gojotx/core/transaction"
)

func TestSynchronizationPolicy_String(t *testing.T) {
	require.Equal(t, "ALWAYS", SyncAlways.String())
	require.Equal(t, "ON_ACTUAL_TRANSACTION", SyncOnActualTransaction.String())
	require.Equal(t, "NEVER", SyncNever.String())
	require.Equal(t, "SYNCHRONIZATION(9)", SynchronizationPolicy(9).String())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, SyncAlways, cfg.Synchronization)
	require.Equal(t, transaction.TimeoutDefault, cfg.DefaultTimeout)
	require.False(t, cfg.NestedAllowed)
	require.False(t, cfg.ValidateExistingTransaction)
	require.True(t, cfg.GlobalRollbackOnParticipationFailure)
	require.False(t, cfg.FailEarlyOnGlobalRollbackOnly)
	require.False(t, cfg.RollbackOnCommitFailure)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.validate())

	cfg.DefaultTimeout = 30
	require.NoError(t, cfg.validate())

	cfg.DefaultTimeout = -5
	require.ErrorIs(t, cfg.validate(), transaction.ErrInvalidTimeout)
}
