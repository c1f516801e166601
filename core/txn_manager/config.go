package txnmanager

import (
	"fmt"

	"github.com/sushant-115/gojotx/core/transaction"
)

// SynchronizationPolicy decides for which transaction scopes the Manager opens
// a synchronization registry on the flow's transaction context.
type SynchronizationPolicy int

const (
	// SyncAlways activates synchronization for every scope, including empty
	// scopes that run without a real transaction (default).
	SyncAlways SynchronizationPolicy = iota
	// SyncOnActualTransaction activates synchronization only for scopes
	// backed by a real resource transaction.
	SyncOnActualTransaction
	// SyncNever leaves synchronization inactive; callbacks cannot be
	// registered through this manager.
	SyncNever
)

func (p SynchronizationPolicy) String() string {
	switch p {
	case SyncAlways:
		return "ALWAYS"
	case SyncOnActualTransaction:
		return "ON_ACTUAL_TRANSACTION"
	case SyncNever:
		return "NEVER"
	default:
		return fmt.Sprintf("SYNCHRONIZATION(%d)", int(p))
	}
}

// Config holds all the configuration for a Manager. It is fixed at
// construction time; per-attempt behavior comes from the
// transaction.Definition instead.
type Config struct {
	// Synchronization is the policy for opening synchronization registries.
	Synchronization SynchronizationPolicy `yaml:"synchronization"`
	// DefaultTimeout, in seconds, applies to definitions that request
	// transaction.TimeoutDefault. TimeoutDefault here means no timeout at all.
	DefaultTimeout int `yaml:"default_timeout"`
	// NestedAllowed permits PropagationNested; when false such requests fail
	// with transaction.ErrNestedTransactionNotSupported.
	NestedAllowed bool `yaml:"nested_allowed"`
	// ValidateExistingTransaction makes the Manager reject participation in an
	// existing transaction whose isolation level or read-only flag is
	// incompatible with the incoming definition.
	ValidateExistingTransaction bool `yaml:"validate_existing_transaction"`
	// GlobalRollbackOnParticipationFailure marks the whole existing
	// transaction rollback-only when a participating scope rolls back. With it
	// disabled a participant failure leaves the commit decision entirely to
	// the transaction originator.
	GlobalRollbackOnParticipationFailure bool `yaml:"global_rollback_on_participation_failure"`
	// FailEarlyOnGlobalRollbackOnly surfaces
	// transaction.ErrUnexpectedRollback at the first participating scope that
	// completes after the global rollback-only mark was set, instead of only
	// at the outermost boundary.
	FailEarlyOnGlobalRollbackOnly bool `yaml:"fail_early_on_global_rollback_only"`
	// RollbackOnCommitFailure attempts a corrective rollback when the resource
	// manager's commit fails. The commit error stays the one returned; a
	// failure of the corrective rollback is logged.
	RollbackOnCommitFailure bool `yaml:"rollback_on_commit_failure"`
}

// DefaultConfig returns the standard Manager policy: synchronization always
// on, no default timeout, nested transactions disabled, no characteristic
// validation, participant failures mark the shared transaction rollback-only,
// rollback-only detection at the outermost boundary, no corrective rollback
// after commit failures.
func DefaultConfig() Config {
	return Config{
		Synchronization:                      SyncAlways,
		DefaultTimeout:                       transaction.TimeoutDefault,
		GlobalRollbackOnParticipationFailure: true,
	}
}

func (c Config) validate() error {
	if c.DefaultTimeout < transaction.TimeoutDefault {
		return fmt.Errorf("%w: default timeout %d is below %d",
			transaction.ErrInvalidTimeout, c.DefaultTimeout, transaction.TimeoutDefault)
	}
	return nil
}
