package domain

import "time"

// PortMapping publishes a container port on the host.
type PortMapping struct {
	HostIP        string `json:"host_ip,omitempty"`
	HostPort      string `json:"host_port"`
	ContainerPort string `json:"container_port"`
	Protocol      string `json:"protocol,omitempty"`
}

// VolumeMapping mounts a host path or named volume into a container.
type VolumeMapping struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	ReadOnly bool   `json:"read_only,omitempty"`
}

// NetworkDefinition describes how a declared network is realized on the host.
// External networks pass through verbatim and are never created or removed;
// managed networks carry the stack identity as a prefix so stacks sharing a
// host cannot collide.
type NetworkDefinition struct {
	External     bool   `json:"external"`
	ResolvedName string `json:"resolved_name"`
}

// DeploymentStep realizes one service instance. Every name in DependsOn refers
// to another step in the same plan with a strictly smaller Order.
type DeploymentStep struct {
	ContextName    string            `json:"context_name"`
	Image          string            `json:"image"`
	Tag            string            `json:"tag"`
	ContainerName  string            `json:"container_name"`
	Internal       bool              `json:"internal"`
	Env            map[string]string `json:"env,omitempty"`
	Ports          []PortMapping     `json:"ports,omitempty"`
	Volumes        []VolumeMapping   `json:"volumes,omitempty"`
	DependsOn      []string          `json:"depends_on,omitempty"`
	Order          int               `json:"order"`
	Networks       []string          `json:"networks,omitempty"`
	HealthEndpoint string            `json:"health_endpoint,omitempty"`
	IgnoreInMaint  bool              `json:"ignore_in_maintenance,omitempty"`
}

// ImageRef returns the full image reference including the version tag.
func (s DeploymentStep) ImageRef() string {
	if s.Tag == "" {
		return s.Image
	}
	return s.Image + ":" + s.Tag
}

// DeploymentPlan is the ordered, fully resolved set of actions needed to
// realize a stack's desired state. Steps are sorted ascending by Order and
// Order is dense. Immutable once built.
type DeploymentPlan struct {
	StackVersion  string                       `json:"stack_version"`
	EnvironmentID string                       `json:"environment_id"`
	StackID       string                       `json:"stack_id"`
	StackName     string                       `json:"stack_name"`
	Networks      map[string]NetworkDefinition `json:"networks,omitempty"`
	Steps         []DeploymentStep             `json:"steps"`
	GlobalEnv     map[string]string            `json:"global_env,omitempty"`
}

// Step returns the step with the given context name, or nil.
func (p *DeploymentPlan) Step(contextName string) *DeploymentStep {
	for i := range p.Steps {
		if p.Steps[i].ContextName == contextName {
			return &p.Steps[i]
		}
	}
	return nil
}

// DeploymentResult records the outcome of one executor run. It is produced
// once per run and never mutated after return.
type DeploymentResult struct {
	Success      bool      `json:"success"`
	StackVersion string    `json:"stack_version"`
	Deployed     []string  `json:"deployed"`
	Errors       []string  `json:"errors,omitempty"`
	Warnings     []string  `json:"warnings,omitempty"`
	CompletedAt  time.Time `json:"completed_at"`
}

// PlanSnapshot is the single retained prior plan used for rollback after a
// failed upgrade. At most one snapshot exists per stack.
type PlanSnapshot struct {
	StackID string         `json:"stack_id"`
	Version string         `json:"version"`
	Plan    DeploymentPlan `json:"plan"`
	TakenAt time.Time      `json:"taken_at"`
}
