package transaction

import "fmt"

// Propagation controls how an operation relates to a transaction that may
// already be in progress on the calling flow.
type Propagation int

const (
	PropagationRequired     Propagation = iota // Join the current transaction, create a new one if none exists (default)
	PropagationSupports                        // Join the current transaction, run non-transactionally if none exists
	PropagationMandatory                       // Join the current transaction, fail if none exists
	PropagationRequiresNew                     // Create a new transaction, suspending the current one if it exists
	PropagationNotSupported                    // Run non-transactionally, suspending the current transaction if it exists
	PropagationNever                           // Run non-transactionally, fail if a transaction exists
	PropagationNested                          // Run in a nested transaction if one exists, otherwise like PropagationRequired
)

func (p Propagation) String() string {
	switch p {
	case PropagationRequired:
		return "REQUIRED"
	case PropagationSupports:
		return "SUPPORTS"
	case PropagationMandatory:
		return "MANDATORY"
	case PropagationRequiresNew:
		return "REQUIRES_NEW"
	case PropagationNotSupported:
		return "NOT_SUPPORTED"
	case PropagationNever:
		return "NEVER"
	case PropagationNested:
		return "NESTED"
	default:
		return fmt.Sprintf("PROPAGATION(%d)", int(p))
	}
}

// Isolation is the requested isolation level for a new transaction. Resource
// managers that cannot honor a level may ignore it; the orchestrator only
// records and restores it.
type Isolation int

const (
	IsolationDefault         Isolation = iota // Use the resource manager's default level
	IsolationReadUncommitted                  // Dirty reads, non-repeatable reads and phantom reads possible
	IsolationReadCommitted                    // Dirty reads prevented
	IsolationRepeatableRead                   // Dirty and non-repeatable reads prevented
	IsolationSerializable                     // Fully serializable execution
)

func (i Isolation) String() string {
	switch i {
	case IsolationDefault:
		return "DEFAULT"
	case IsolationReadUncommitted:
		return "READ_UNCOMMITTED"
	case IsolationReadCommitted:
		return "READ_COMMITTED"
	case IsolationRepeatableRead:
		return "REPEATABLE_READ"
	case IsolationSerializable:
		return "SERIALIZABLE"
	default:
		return fmt.Sprintf("ISOLATION(%d)", int(i))
	}
}

// TimeoutDefault means no explicit timeout was requested and the manager's
// configured default applies. Timeouts are whole seconds; values below
// TimeoutDefault are rejected.
const TimeoutDefault = -1

// Definition describes the transaction an operation wants. It is a pure value:
// the orchestrator copies it into each attempt and never mutates the caller's
// instance.
type Definition struct {
	Propagation Propagation
	Isolation   Isolation
	Timeout     int // seconds, TimeoutDefault for the manager default
	ReadOnly    bool
	Name        string // label for logs, traces and the bound context, may be empty
}

// NewDefinition returns a definition with default behavior: REQUIRED
// propagation, default isolation, default timeout, read-write.
func NewDefinition() Definition {
	return Definition{
		Propagation: PropagationRequired,
		Isolation:   IsolationDefault,
		Timeout:     TimeoutDefault,
	}
}

func (d Definition) String() string {
	mode := "rw"
	if d.ReadOnly {
		mode = "ro"
	}
	name := d.Name
	if name == "" {
		name = "<unnamed>"
	}
	return fmt.Sprintf("%s{%s,%s,timeout=%d,%s}", name, d.Propagation, d.Isolation, d.Timeout, mode)
}

// CompletionStatus is the final outcome reported to synchronizations once a
// transaction completes.
type CompletionStatus int

const (
	StatusCommitted  CompletionStatus = iota // Completed by a proper commit
	StatusRolledBack                         // Completed by a proper rollback
	StatusUnknown                            // Outcome not determinable (e.g. commit failure cleanup)
)

func (s CompletionStatus) String() string {
	switch s {
	case StatusCommitted:
		return "COMMITTED"
	case StatusRolledBack:
		return "ROLLED_BACK"
	default:
		return "UNKNOWN"
	}
}
