package selfupgrade

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/docker"
)

type fakeSwapRuntime struct {
	byName   map[string]string               // name -> id
	specs    map[string]docker.ContainerSpec // name or id -> spec
	pulled   []string
	pullErr  error
	created  []docker.ContainerSpec
	started  []string
	removed  []string
	networks map[string][]string // containerID -> connected networks
}

func newFakeSwapRuntime() *fakeSwapRuntime {
	return &fakeSwapRuntime{
		byName:   make(map[string]string),
		specs:    make(map[string]docker.ContainerSpec),
		networks: make(map[string][]string),
	}
}

func (f *fakeSwapRuntime) ContainerIDByName(_ context.Context, name string) (string, error) {
	return f.byName[name], nil
}

func (f *fakeSwapRuntime) InspectContainer(_ context.Context, nameOrID string) (docker.ContainerState, error) {
	if spec, ok := f.specs[nameOrID]; ok {
		return docker.ContainerState{ID: f.byName[spec.Name], Name: spec.Name, State: "running"}, nil
	}
	return docker.ContainerState{}, docker.ErrNotFound
}

func (f *fakeSwapRuntime) InspectSpec(_ context.Context, nameOrID string) (docker.ContainerSpec, error) {
	if spec, ok := f.specs[nameOrID]; ok {
		return spec, nil
	}
	return docker.ContainerSpec{}, docker.ErrNotFound
}

func (f *fakeSwapRuntime) CreateContainer(_ context.Context, spec docker.ContainerSpec) (string, error) {
	f.created = append(f.created, spec)
	id := "id-" + spec.Name
	f.byName[spec.Name] = id
	return id, nil
}

func (f *fakeSwapRuntime) StartContainer(_ context.Context, id string) error {
	f.started = append(f.started, id)
	return nil
}

func (f *fakeSwapRuntime) RemoveContainer(_ context.Context, id string) error {
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeSwapRuntime) ConnectNetwork(_ context.Context, networkName, containerID string, _ []string) error {
	f.networks[containerID] = append(f.networks[containerID], networkName)
	return nil
}

func (f *fakeSwapRuntime) PullImage(_ context.Context, ref, _ string) error {
	if f.pullErr != nil {
		return f.pullErr
	}
	f.pulled = append(f.pulled, ref)
	return nil
}

type staticCreds struct{ auth string }

func (s staticCreds) ResolveAuth(string) (string, error) { return s.auth, nil }

func newTestCoordinator(runtime *fakeSwapRuntime) *Coordinator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewCoordinator(runtime, staticCreds{}, logger, "example.com/rsg/swapper:latest")
	c.getenv = func(key string) string {
		if key == "RSG_CONTAINER" {
			return "rsg-server"
		}
		return ""
	}
	return c
}

func ownSpec() docker.ContainerSpec {
	return docker.ContainerSpec{
		Name:          "rsg-server",
		Image:         "example.com/rsg/server:1.0.0",
		Env:           []string{"RSG_HTTP_ADDR=:8585"},
		Labels:        map[string]string{"rsg.self": "true"},
		Binds:         []string{"/var/run/docker.sock:/var/run/docker.sock"},
		Networks:      []string{"rsg_default", "edge"},
		RestartPolicy: "unless-stopped",
	}
}

func TestReplaceHappyPath(t *testing.T) {
	runtime := newFakeSwapRuntime()
	runtime.byName["rsg-server"] = "id-own"
	runtime.specs["rsg-server"] = ownSpec()
	c := newTestCoordinator(runtime)

	handoff, err := c.Replace(context.Background(), "example.com/rsg/server:1.1.0")
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}

	if len(runtime.pulled) != 1 || runtime.pulled[0] != "example.com/rsg/server:1.1.0" {
		t.Fatalf("pulled = %v, want target image", runtime.pulled)
	}

	if len(runtime.created) != 2 {
		t.Fatalf("created = %d containers, want replacement and swapper", len(runtime.created))
	}
	replacement := runtime.created[0]
	if replacement.Name != "rsg-server-replacement" {
		t.Errorf("replacement name = %q", replacement.Name)
	}
	if replacement.Image != "example.com/rsg/server:1.1.0" {
		t.Errorf("replacement image = %q", replacement.Image)
	}
	// Configuration copied from the running container.
	if replacement.RestartPolicy != "unless-stopped" || len(replacement.Binds) != 1 {
		t.Errorf("replacement did not copy host config: %+v", replacement)
	}
	if len(replacement.Networks) != 1 || replacement.Networks[0] != "rsg_default" {
		t.Errorf("replacement create-time networks = %v, want primary only", replacement.Networks)
	}
	// Non-primary networks re-attached explicitly after create.
	if got := runtime.networks[handoff.ReplacementID]; len(got) != 1 || got[0] != "edge" {
		t.Errorf("extra networks connected = %v, want [edge]", got)
	}

	swapper := runtime.created[1]
	if swapper.Name != "rsg-server-swapper" {
		t.Errorf("swapper name = %q", swapper.Name)
	}
	if swapper.NetworkMode != "host" || !swapper.AutoRemove {
		t.Errorf("swapper must run host-networked and auto-remove: %+v", swapper)
	}
	if !strings.Contains(strings.Join(swapper.Cmd, " "), "--old rsg-server") {
		t.Errorf("swapper cmd missing old name: %v", swapper.Cmd)
	}
	if len(runtime.started) != 1 || runtime.started[0] != handoff.SwapperID {
		t.Errorf("started = %v, want only the swapper (replacement stays stopped)", runtime.started)
	}
}

func TestReplaceRemovesLeftovers(t *testing.T) {
	runtime := newFakeSwapRuntime()
	runtime.byName["rsg-server"] = "id-own"
	runtime.specs["rsg-server"] = ownSpec()
	runtime.byName["rsg-server-replacement"] = "id-stale-replacement"
	runtime.byName["rsg-server-swapper"] = "id-stale-swapper"
	c := newTestCoordinator(runtime)

	if _, err := c.Replace(context.Background(), "example.com/rsg/server:1.1.0"); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	want := map[string]bool{"id-stale-replacement": true, "id-stale-swapper": true}
	for _, id := range runtime.removed {
		delete(want, id)
	}
	if len(want) != 0 {
		t.Errorf("leftovers not removed: %v (removed %v)", want, runtime.removed)
	}
}

func TestReplacePullFailureStopsProtocol(t *testing.T) {
	runtime := newFakeSwapRuntime()
	runtime.byName["rsg-server"] = "id-own"
	runtime.specs["rsg-server"] = ownSpec()
	runtime.pullErr = errors.New("unauthorized")
	c := newTestCoordinator(runtime)

	if _, err := c.Replace(context.Background(), "example.com/rsg/server:1.1.0"); err == nil {
		t.Fatal("expected error")
	}
	if len(runtime.created) != 0 {
		t.Errorf("containers created after failed pull: %v", runtime.created)
	}
}

func TestReplaceRequiresKnownIdentity(t *testing.T) {
	runtime := newFakeSwapRuntime()
	c := newTestCoordinator(runtime) // RSG_CONTAINER set but not present on host

	if _, err := c.Replace(context.Background(), "example.com/rsg/server:1.1.0"); err == nil {
		t.Fatal("expected identity error")
	}
}
