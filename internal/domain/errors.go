package domain

import (
	"errors"
	"fmt"
)

// Reason is a stable, machine-readable code that tells callers whether to
// retry, fix input, or escalate to an operator.
type Reason string

const (
	ReasonDependencyCycle     Reason = "dependency_cycle"
	ReasonDependencyMissing   Reason = "dependency_missing"
	ReasonGatewayNotFound     Reason = "gateway_not_found"
	ReasonValidation          Reason = "validation"
	ReasonOperationInProgress Reason = "operation_in_progress"
	ReasonInvalidTransition   Reason = "invalid_transition"
	ReasonNoSnapshot          Reason = "no_snapshot"
	ReasonRollbackDisabled    Reason = "rollback_disabled"
	ReasonRuntimeFailure      Reason = "runtime_failure"
)

// OperationError carries a Reason alongside the human-readable message.
type OperationError struct {
	Reason  Reason
	Message string
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// NewOperationError builds an OperationError with a formatted message.
func NewOperationError(reason Reason, format string, args ...any) *OperationError {
	return &OperationError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// ReasonOf extracts the Reason from an error chain, or empty.
func ReasonOf(err error) Reason {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Reason
	}
	return ""
}
