package docker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// ContainerIDByName looks up a container by exact name. Returns empty when no
// container carries the name.
func (c *Client) ContainerIDByName(ctx context.Context, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("container name cannot be empty")
	}
	args := filters.NewArgs(filters.Arg("name", name))
	list, err := c.inner.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return "", fmt.Errorf("list containers: %w", err)
	}
	for _, item := range list {
		for _, n := range item.Names {
			if strings.TrimPrefix(n, "/") == name {
				return item.ID, nil
			}
		}
	}
	return "", nil
}

// InspectContainer returns the observed state for a container.
func (c *Client) InspectContainer(ctx context.Context, nameOrID string) (ContainerState, error) {
	inspect, err := c.inner.ContainerInspect(ctx, nameOrID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return ContainerState{}, ErrNotFound
		}
		return ContainerState{}, fmt.Errorf("container inspect: %w", err)
	}
	return stateFromInspect(inspect), nil
}

// ListStackContainers returns every container labelled with the stack ID.
func (c *Client) ListStackContainers(ctx context.Context, stackID string) ([]ContainerState, error) {
	args := filters.NewArgs(filters.Arg("label", LabelStack+"="+stackID))
	list, err := c.inner.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, fmt.Errorf("list stack containers: %w", err)
	}
	states := make([]ContainerState, 0, len(list))
	for _, item := range list {
		inspect, err := c.inner.ContainerInspect(ctx, item.ID)
		if err != nil {
			if client.IsErrNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("container inspect: %w", err)
		}
		states = append(states, stateFromInspect(inspect))
	}
	return states, nil
}

// CreateContainer creates (but does not start) a container from the spec.
func (c *Client) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return "", fmt.Errorf("container name cannot be empty")
	}
	if strings.TrimSpace(spec.Image) == "" {
		return "", fmt.Errorf("image name cannot be empty")
	}

	cfg := &container.Config{
		Image:        spec.Image,
		Cmd:          spec.Cmd,
		Env:          spec.Env,
		Labels:       spec.Labels,
		ExposedPorts: map[nat.Port]struct{}{},
	}
	for p := range spec.Ports {
		cfg.ExposedPorts[p] = struct{}{}
	}

	restart := spec.RestartPolicy
	if restart == "" {
		restart = "unless-stopped"
	}
	hostCfg := &container.HostConfig{
		PortBindings:  spec.Ports,
		Binds:         spec.Binds,
		AutoRemove:    spec.AutoRemove,
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyMode(restart)},
	}
	if spec.NetworkMode != "" {
		hostCfg.NetworkMode = container.NetworkMode(spec.NetworkMode)
	}
	if spec.AutoRemove {
		// AutoRemove and restart policies are mutually exclusive.
		hostCfg.RestartPolicy = container.RestartPolicy{}
	}

	var netCfg *network.NetworkingConfig
	if len(spec.Networks) > 0 && spec.NetworkMode == "" {
		endpoint := &network.EndpointSettings{}
		if len(spec.Aliases) > 0 {
			endpoint.Aliases = spec.Aliases
		}
		// Attach the primary network at create time; remaining networks are
		// connected afterwards because the create API accepts only one.
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{spec.Networks[0]: endpoint},
		}
	}

	resp, err := c.inner.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("container create: %w", err)
	}
	return resp.ID, nil
}

// StartContainer starts a created container.
func (c *Client) StartContainer(ctx context.Context, id string) error {
	if err := c.inner.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("container start: %w", err)
	}
	return nil
}

// StopContainer stops a running container, waiting up to timeout.
func (c *Client) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	opts := container.StopOptions{}
	if timeout > 0 {
		seconds := int(timeout.Seconds())
		opts.Timeout = &seconds
	}
	if err := c.inner.ContainerStop(ctx, id, opts); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("container stop: %w", err)
	}
	return nil
}

// RemoveContainer removes an existing container if it exists.
func (c *Client) RemoveContainer(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("container id cannot be empty")
	}
	if err := c.inner.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

// RenameContainer renames a container.
func (c *Client) RenameContainer(ctx context.Context, id, newName string) error {
	if err := c.inner.ContainerRename(ctx, id, newName); err != nil {
		return fmt.Errorf("container rename: %w", err)
	}
	return nil
}

// InspectSpec reconstructs a creatable spec from an existing container. Used
// to clone the orchestrator's own container during self-replacement.
func (c *Client) InspectSpec(ctx context.Context, nameOrID string) (ContainerSpec, error) {
	inspect, err := c.inner.ContainerInspect(ctx, nameOrID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return ContainerSpec{}, ErrNotFound
		}
		return ContainerSpec{}, fmt.Errorf("container inspect: %w", err)
	}

	spec := ContainerSpec{Name: strings.TrimPrefix(inspect.Name, "/")}
	if inspect.Config != nil {
		spec.Image = inspect.Config.Image
		spec.Cmd = inspect.Config.Cmd
		spec.Env = inspect.Config.Env
		spec.Labels = inspect.Config.Labels
	}
	if inspect.HostConfig != nil {
		spec.Ports = inspect.HostConfig.PortBindings
		spec.Binds = inspect.HostConfig.Binds
		spec.RestartPolicy = string(inspect.HostConfig.RestartPolicy.Name)
		if inspect.HostConfig.NetworkMode.IsHost() || inspect.HostConfig.NetworkMode.IsNone() {
			spec.NetworkMode = string(inspect.HostConfig.NetworkMode)
		}
	}
	if inspect.NetworkSettings != nil {
		names := make([]string, 0, len(inspect.NetworkSettings.Networks))
		for name := range inspect.NetworkSettings.Networks {
			names = append(names, name)
		}
		sort.Strings(names)
		spec.Networks = names
		if len(names) > 0 {
			if endpoint := inspect.NetworkSettings.Networks[names[0]]; endpoint != nil {
				spec.Aliases = endpoint.Aliases
			}
		}
	}
	return spec, nil
}

func stateFromInspect(inspect types.ContainerJSON) ContainerState {
	state := ContainerState{
		ID:           inspect.ID,
		Name:         strings.TrimPrefix(inspect.Name, "/"),
		RestartCount: inspect.RestartCount,
	}
	if inspect.Config != nil {
		state.Image = inspect.Config.Image
		state.Labels = inspect.Config.Labels
	}
	if inspect.State != nil {
		state.State = inspect.State.Status
		state.ExitCode = inspect.State.ExitCode
		if inspect.State.Health != nil {
			state.Health = inspect.State.Health.Status
		}
		if started, err := time.Parse(time.RFC3339Nano, inspect.State.StartedAt); err == nil {
			state.StartedAt = started
		}
	}
	return state
}
