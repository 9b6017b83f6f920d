// Package selfupgrade replaces the orchestrator's own running container. The
// process cannot remove the container it runs inside of, so the protocol ends
// at launching a detached helper with complete instructions; the helper
// (cmd/swapper) performs the actual swap after this process exits.
package selfupgrade

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/docker"
)

// Deterministic suffixes keying leftover artifacts from earlier attempts.
const (
	replacementSuffix = "-replacement"
	swapperSuffix     = "-swapper"
)

// Runtime is the container-host surface the coordinator needs. *docker.Client
// satisfies it.
type Runtime interface {
	ContainerIDByName(ctx context.Context, name string) (string, error)
	InspectContainer(ctx context.Context, nameOrID string) (docker.ContainerState, error)
	InspectSpec(ctx context.Context, nameOrID string) (docker.ContainerSpec, error)
	CreateContainer(ctx context.Context, spec docker.ContainerSpec) (string, error)
	StartContainer(ctx context.Context, id string) error
	RemoveContainer(ctx context.Context, id string) error
	ConnectNetwork(ctx context.Context, networkName, containerID string, aliases []string) error
	PullImage(ctx context.Context, ref, registryAuth string) error
}

var _ Runtime = (*docker.Client)(nil)

// CredentialResolver resolves registry auth for the target image pull.
type CredentialResolver interface {
	ResolveAuth(ref string) (string, error)
}

// Coordinator drives the swap protocol up to the helper handoff.
type Coordinator struct {
	runtime Runtime
	creds   CredentialResolver
	logger  *slog.Logger

	// swapperImage is the image the detached helper runs; it carries the
	// swapper binary.
	swapperImage string

	hostname func() (string, error)
	getenv   func(string) string
}

// NewCoordinator wires the self-replacement coordinator.
func NewCoordinator(runtime Runtime, creds CredentialResolver, logger *slog.Logger, swapperImage string) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		runtime:      runtime,
		creds:        creds,
		logger:       logger.With("component", "selfupgrade"),
		swapperImage: swapperImage,
		hostname:     os.Hostname,
		getenv:       os.Getenv,
	}
}

// Handoff describes the launched helper. After a successful Replace the
// orchestrator's only remaining job is to keep serving until the helper stops
// it.
type Handoff struct {
	OldName       string
	NewName       string
	ReplacementID string
	SwapperID     string
	TargetImage   string
}

// Replace executes the swap protocol for the given target image. On return
// the helper is running detached; the calling process should expect to be
// stopped shortly after.
func (c *Coordinator) Replace(ctx context.Context, targetImage string) (*Handoff, error) {
	if strings.TrimSpace(targetImage) == "" {
		return nil, fmt.Errorf("target image cannot be empty")
	}

	ownName, err := c.identifySelf(ctx)
	if err != nil {
		return nil, err
	}
	log := c.logger.With("container", ownName, "target_image", targetImage)
	log.Info("self-replacement started")

	if err := c.removeLeftovers(ctx, ownName); err != nil {
		return nil, err
	}

	var auth string
	if c.creds != nil {
		auth, err = c.creds.ResolveAuth(targetImage)
		if err != nil {
			return nil, fmt.Errorf("resolve registry credentials: %w", err)
		}
	}
	if err := c.runtime.PullImage(ctx, targetImage, auth); err != nil {
		return nil, fmt.Errorf("pull target image: %w", err)
	}
	log.Info("target image pulled")

	spec, err := c.runtime.InspectSpec(ctx, ownName)
	if err != nil {
		return nil, fmt.Errorf("inspect own container: %w", err)
	}
	replacementName := ownName + replacementSuffix
	clone := spec
	clone.Name = replacementName
	clone.Image = targetImage
	if len(spec.Networks) > 1 {
		clone.Networks = spec.Networks[:1]
	}

	replacementID, err := c.runtime.CreateContainer(ctx, clone)
	if err != nil {
		return nil, fmt.Errorf("create replacement container: %w", err)
	}
	// The create API attaches only the primary network; the rest are joined
	// explicitly so the replacement matches the original exactly.
	for _, name := range extraNetworks(spec.Networks) {
		if err := c.runtime.ConnectNetwork(ctx, name, replacementID, nil); err != nil {
			return nil, fmt.Errorf("connect network %s: %w", name, err)
		}
	}
	log.Info("replacement container created", "replacement", replacementName)

	swapperID, err := c.launchSwapper(ctx, ownName, replacementName)
	if err != nil {
		return nil, err
	}
	log.Info("swap helper launched", "swapper_id", swapperID)

	return &Handoff{
		OldName:       ownName,
		NewName:       replacementName,
		ReplacementID: replacementID,
		SwapperID:     swapperID,
		TargetImage:   targetImage,
	}, nil
}

// identifySelf determines the orchestrator's own container name, preferring
// the explicit RSG_CONTAINER override over the hostname (which inside a
// container is the short container ID).
func (c *Coordinator) identifySelf(ctx context.Context) (string, error) {
	if name := c.getenv("RSG_CONTAINER"); name != "" {
		if id, err := c.runtime.ContainerIDByName(ctx, name); err == nil && id != "" {
			return name, nil
		}
		return "", fmt.Errorf("configured container %s not found on host", name)
	}
	host, err := c.hostname()
	if err != nil {
		return "", fmt.Errorf("determine hostname: %w", err)
	}
	state, err := c.runtime.InspectContainer(ctx, host)
	if err != nil {
		if err == docker.ErrNotFound {
			return "", fmt.Errorf("not running inside a managed container (hostname %s unknown to runtime)", host)
		}
		return "", fmt.Errorf("inspect own container: %w", err)
	}
	return state.Name, nil
}

// removeLeftovers force-removes replacement and helper containers from a
// previous failed attempt so the protocol restarts cleanly.
func (c *Coordinator) removeLeftovers(ctx context.Context, ownName string) error {
	for _, name := range []string{ownName + replacementSuffix, ownName + swapperSuffix} {
		id, err := c.runtime.ContainerIDByName(ctx, name)
		if err != nil {
			return fmt.Errorf("look up leftover %s: %w", name, err)
		}
		if id == "" {
			continue
		}
		c.logger.Warn("removing leftover container from previous attempt", "name", name)
		if err := c.runtime.RemoveContainer(ctx, id); err != nil {
			return fmt.Errorf("remove leftover %s: %w", name, err)
		}
	}
	return nil
}

// launchSwapper starts the detached helper with the runtime socket mounted
// and host networking, so it can serve the status page on the orchestrator's
// port while the swap is in flight.
func (c *Coordinator) launchSwapper(ctx context.Context, oldName, newName string) (string, error) {
	spec := docker.ContainerSpec{
		Name:  oldName + swapperSuffix,
		Image: c.swapperImage,
		Cmd:   []string{"/swapper", "--old", oldName, "--new", newName},
		Env: []string{
			"RSG_SWAP_OLD=" + oldName,
			"RSG_SWAP_NEW=" + newName,
		},
		Binds:       []string{"/var/run/docker.sock:/var/run/docker.sock"},
		NetworkMode: "host",
		AutoRemove:  true,
	}
	id, err := c.runtime.CreateContainer(ctx, spec)
	if err != nil {
		return "", fmt.Errorf("create swap helper: %w", err)
	}
	if err := c.runtime.StartContainer(ctx, id); err != nil {
		return "", fmt.Errorf("start swap helper: %w", err)
	}
	return id, nil
}

func extraNetworks(networks []string) []string {
	if len(networks) <= 1 {
		return nil
	}
	return networks[1:]
}
