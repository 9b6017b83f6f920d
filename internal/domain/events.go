package domain

import "time"

// ProgressEvent is one entry in an operation's ordered progress stream.
type ProgressEvent struct {
	StackID     string    `json:"stack_id"`
	OperationID string    `json:"operation_id"`
	Step        string    `json:"step"`
	Phase       string    `json:"phase"`
	Outcome     string    `json:"outcome"`
	Message     string    `json:"message,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// DeploymentEvent is a persisted progress event for audit.
type DeploymentEvent struct {
	ID          int64
	StackID     string
	OperationID string
	Step        string
	Phase       string
	Outcome     string
	Message     string
	OccurredAt  time.Time
}
