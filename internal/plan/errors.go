package plan

import "fmt"

// ConfigurationError reports an invalid plan declaration: an unknown
// partitioner/scheduler/executor type, a dangling or cyclic dependency,
// or a malformed stage config. Raised at plan-validation time, before
// any shard work begins.
type ConfigurationError struct {
	StageID string
	Field   string
	Value   string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if e.StageID != "" {
		return fmt.Sprintf("configuration error: stage %q: %s %q: %s", e.StageID, e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("configuration error: %s %q: %s", e.Field, e.Value, e.Reason)
}

// ConstraintViolationError reports that a plan's partitioned shard count
// exceeds its max_shards constraint. Raised before dispatch; when it is
// returned no shard has been persisted.
type ConstraintViolationError struct {
	PlanID     string
	StageID    string
	ShardCount int
	MaxShards  int
}

func (e *ConstraintViolationError) Error() string {
	return fmt.Sprintf("constraint violation: plan %q stage %q would produce %d shards, max_shards is %d",
		e.PlanID, e.StageID, e.ShardCount, e.MaxShards)
}

// ExecutionError wraps a failure raised by an executor. It is recorded
// as a failed ShardResult and does not propagate to sibling shards.
type ExecutionError struct {
	CASID string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed for shard %s: %v", e.CASID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// IntegrityError reports a Merkle proof that failed verification,
// signalling tampering or a checkpoint/result mismatch.
type IntegrityError struct {
	PlanID string
	CASID  string
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity failure: plan %q shard %q: %s", e.PlanID, e.CASID, e.Reason)
}

// PersistenceError wraps a checkpoint store failure. Fatal to the run:
// a shard is never treated as succeeded if its result could not be
// durably recorded.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
