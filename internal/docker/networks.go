package docker

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
)

// NetworkExists reports whether a network with the exact name exists.
func (c *Client) NetworkExists(ctx context.Context, name string) (bool, error) {
	if strings.TrimSpace(name) == "" {
		return false, fmt.Errorf("network name cannot be empty")
	}
	args := filters.NewArgs(filters.Arg("name", name))
	list, err := c.inner.NetworkList(ctx, network.ListOptions{Filters: args})
	if err != nil {
		return false, fmt.Errorf("list networks: %w", err)
	}
	for _, item := range list {
		if item.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// CreateNetwork creates a bridge network with the given name.
func (c *Client) CreateNetwork(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("network name cannot be empty")
	}
	if _, err := c.inner.NetworkCreate(ctx, name, network.CreateOptions{Driver: "bridge"}); err != nil {
		return fmt.Errorf("create network %s: %w", name, err)
	}
	return nil
}

// ConnectNetwork attaches a container to a network with optional aliases.
func (c *Client) ConnectNetwork(ctx context.Context, networkName, containerID string, aliases []string) error {
	endpoint := &network.EndpointSettings{}
	if len(aliases) > 0 {
		endpoint.Aliases = aliases
	}
	if err := c.inner.NetworkConnect(ctx, networkName, containerID, endpoint); err != nil {
		if client.IsErrNotFound(err) {
			return ErrNotFound
		}
		// Connecting an already-attached container is not an error.
		if strings.Contains(err.Error(), "already exists in network") {
			return nil
		}
		return fmt.Errorf("connect network %s: %w", networkName, err)
	}
	return nil
}
