package docker

import (
	"context"
	"time"

	"github.com/docker/go-connections/nat"
)

// ContainerSpec describes a container to create.
type ContainerSpec struct {
	Name          string
	Image         string
	Cmd           []string
	Env           []string
	Labels        map[string]string
	Ports         nat.PortMap
	Binds         []string
	Networks      []string
	Aliases       []string
	RestartPolicy string
	NetworkMode   string
	AutoRemove    bool
}

// ContainerState captures the observed state of one container.
type ContainerState struct {
	ID           string
	Name         string
	Image        string
	State        string
	Health       string
	ExitCode     int
	RestartCount int
	Labels       map[string]string
	StartedAt    time.Time
}

// Running reports whether the container is currently running.
func (s ContainerState) Running() bool {
	return s.State == "running"
}

// Runtime is the subset of container-host operations the engine drives. It is
// injected explicitly so tests can substitute a fake.
type Runtime interface {
	Ping(ctx context.Context) error

	ContainerIDByName(ctx context.Context, name string) (string, error)
	InspectContainer(ctx context.Context, nameOrID string) (ContainerState, error)
	ListStackContainers(ctx context.Context, stackID string) ([]ContainerState, error)

	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string, timeout time.Duration) error
	RemoveContainer(ctx context.Context, id string) error
	RenameContainer(ctx context.Context, id, newName string) error

	NetworkExists(ctx context.Context, name string) (bool, error)
	CreateNetwork(ctx context.Context, name string) error
	ConnectNetwork(ctx context.Context, networkName, containerID string, aliases []string) error

	PullImage(ctx context.Context, ref, registryAuth string) error
}

var _ Runtime = (*Client)(nil)
