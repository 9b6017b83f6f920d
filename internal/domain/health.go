package domain

import "time"

// HealthStatus grades observed stack health.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthUnknown   HealthStatus = "unknown"
)

// ServiceHealth is the per-service portion of a snapshot.
type ServiceHealth struct {
	ContextName    string       `json:"context_name"`
	ContainerID    string       `json:"container_id,omitempty"`
	Status         HealthStatus `json:"status"`
	ContainerState string       `json:"container_state,omitempty"`
	EndpointStatus HealthStatus `json:"endpoint_status,omitempty"`
	RestartCount   int          `json:"restart_count"`
	LastReason     string       `json:"last_reason,omitempty"`
	// ExpectedDown marks a service whose container is supposed to be
	// stopped in the current mode; it never lowers the overall status.
	ExpectedDown bool `json:"expected_down,omitempty"`
}

// BusHealth reports the message bus check, when configured.
type BusHealth struct {
	Status HealthStatus `json:"status"`
	Detail string       `json:"detail,omitempty"`
}

// InfraHealth reports the container runtime check.
type InfraHealth struct {
	Status HealthStatus `json:"status"`
	Detail string       `json:"detail,omitempty"`
}

// HealthSnapshot is a point-in-time health capture for one
// (organization, environment, stack) tuple. Snapshots are appended to a
// bounded, time-ordered history and never mutated.
type HealthSnapshot struct {
	OrganizationID string `json:"organization_id"`
	EnvironmentID  string `json:"environment_id"`
	StackID        string `json:"stack_id"`

	Status HealthStatus  `json:"status"`
	Mode   OperationMode `json:"mode"`

	CurrentVersion string `json:"current_version,omitempty"`
	TargetVersion  string `json:"target_version,omitempty"`

	Bus      *BusHealth      `json:"bus,omitempty"`
	Infra    *InfraHealth    `json:"infra,omitempty"`
	Services []ServiceHealth `json:"services"`

	TakenAt time.Time `json:"taken_at"`
}
