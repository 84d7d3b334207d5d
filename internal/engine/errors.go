package engine

import "fmt"

// PreconditionError reports a mutation refused because the entity's state
// does not allow it (missing deliverables, pending approval, already done).
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return e.Reason
}

// UnauthorizedError reports an actor lacking the right to an operation.
type UnauthorizedError struct {
	Actor     string
	Operation string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("actor %s may not %s", e.Actor, e.Operation)
}

// ValidationError reports malformed input caught past the transport layer.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
