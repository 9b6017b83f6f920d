package domain

import "time"

// OperationMode is the orchestrator-owned, authoritative indicator of planned
// versus unplanned service disruption. Only the lifecycle controller
// transitions it; raw container observation never sets it.
type OperationMode string

const (
	ModeNormal      OperationMode = "normal"
	ModeMigrating   OperationMode = "migrating"
	ModeMaintenance OperationMode = "maintenance"
	ModeStopped     OperationMode = "stopped"
	ModeFailed      OperationMode = "failed"
)

// DeploymentStatus records why the current OperationMode is what it is.
type DeploymentStatus string

const (
	DeployIdle        DeploymentStatus = "idle"
	DeployDeploying   DeploymentStatus = "deploying"
	DeployUpgrading   DeploymentStatus = "upgrading"
	DeployRollingBack DeploymentStatus = "rolling_back"
	DeployFailed      DeploymentStatus = "failed"
)

// MigrationStatus tracks the in-flight migration, if any.
type MigrationStatus string

const (
	MigrationNone      MigrationStatus = "none"
	MigrationRunning   MigrationStatus = "running"
	MigrationSucceeded MigrationStatus = "succeeded"
	MigrationFailed    MigrationStatus = "failed"
)

// StackRecord is the persisted runtime record for one stack.
type StackRecord struct {
	StackID        string
	StackName      string
	OrganizationID string
	EnvironmentID  string

	Mode            OperationMode
	DeployStatus    DeploymentStatus
	MigrationStatus MigrationStatus

	CurrentVersion string
	TargetVersion  string

	// MaintenanceStopped lists the context names stopped on maintenance
	// entry; exit restarts exactly this set.
	MaintenanceStopped []string

	RollbackDisabled bool

	UpdatedAt time.Time
}

// StackManifest is a fully resolved stack description. Variable substitution
// and schema validation happen upstream; the engine consumes it as-is.
type StackManifest struct {
	StackID        string                     `json:"stack_id"`
	StackName      string                     `json:"stack_name"`
	Version        string                     `json:"version"`
	OrganizationID string                     `json:"organization_id"`
	EnvironmentID  string                     `json:"environment_id"`
	Services       []ServiceManifest          `json:"services"`
	Networks       map[string]NetworkManifest `json:"networks,omitempty"`
	GlobalEnv      map[string]string          `json:"global_env,omitempty"`
	// GatewayContext names the service terminating external traffic; it is
	// always scheduled last.
	GatewayContext   string `json:"gateway_context,omitempty"`
	RollbackDisabled bool   `json:"rollback_disabled,omitempty"`
}

// ServiceManifest describes one service of a stack.
type ServiceManifest struct {
	ContextName    string            `json:"context_name"`
	Image          string            `json:"image"`
	Tag            string            `json:"tag,omitempty"`
	Internal       bool              `json:"internal,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	Ports          []PortMapping     `json:"ports,omitempty"`
	Volumes        []VolumeMapping   `json:"volumes,omitempty"`
	DependsOn      []string          `json:"depends_on,omitempty"`
	Networks       []string          `json:"networks,omitempty"`
	HealthEndpoint string            `json:"health_endpoint,omitempty"`
	// IgnoreInMaintenance keeps the service running through maintenance
	// windows (datastores, message brokers).
	IgnoreInMaintenance bool `json:"ignore_in_maintenance,omitempty"`
}

// NetworkManifest declares a virtual network used by stack services.
type NetworkManifest struct {
	External bool   `json:"external,omitempty"`
	Name     string `json:"name,omitempty"`
}
