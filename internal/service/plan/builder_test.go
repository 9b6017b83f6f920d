package plan

import (
	"reflect"
	"testing"

	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/domain"
)

func manifestWith(services []domain.ServiceManifest) domain.StackManifest {
	return domain.StackManifest{
		StackID:       "stack-1",
		StackName:     "shop",
		Version:       "1.0.0",
		EnvironmentID: "env-1",
		Services:      services,
	}
}

func svc(name string, deps ...string) domain.ServiceManifest {
	return domain.ServiceManifest{
		ContextName: name,
		Image:       "registry.example.com/shop/" + name,
		Tag:         "1.0.0",
		DependsOn:   deps,
	}
}

func TestBuildOrdersDependenciesFirst(t *testing.T) {
	manifest := manifestWith([]domain.ServiceManifest{
		svc("gateway"),
		svc("api", "db"),
		svc("db"),
		svc("worker", "db", "api"),
	})
	manifest.GatewayContext = "gateway"

	p, err := Build(manifest)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(p.Steps) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(p.Steps))
	}

	order := make(map[string]int, len(p.Steps))
	for i, step := range p.Steps {
		if step.Order != i {
			t.Fatalf("order not dense: step %s has order %d at index %d", step.ContextName, step.Order, i)
		}
		order[step.ContextName] = step.Order
	}
	for _, step := range p.Steps {
		for _, dep := range step.DependsOn {
			if order[dep] >= step.Order {
				t.Fatalf("dependency %s (order %d) not before %s (order %d)", dep, order[dep], step.ContextName, step.Order)
			}
		}
	}
	if p.Steps[len(p.Steps)-1].ContextName != "gateway" {
		t.Fatalf("gateway not last: %s", p.Steps[len(p.Steps)-1].ContextName)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	manifest := manifestWith([]domain.ServiceManifest{
		svc("zeta"),
		svc("alpha"),
		svc("mu"),
	})

	first, err := Build(manifest)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	second, err := Build(manifest)
	if err != nil {
		t.Fatalf("second build failed: %v", err)
	}

	var firstNames, secondNames []string
	for _, s := range first.Steps {
		firstNames = append(firstNames, s.ContextName)
	}
	for _, s := range second.Steps {
		secondNames = append(secondNames, s.ContextName)
	}
	if !reflect.DeepEqual(firstNames, secondNames) {
		t.Fatalf("orders differ: %v vs %v", firstNames, secondNames)
	}
	want := []string{"alpha", "mu", "zeta"}
	if !reflect.DeepEqual(firstNames, want) {
		t.Fatalf("ties not broken alphabetically: %v", firstNames)
	}
}

func TestBuildDetectsCycle(t *testing.T) {
	manifest := manifestWith([]domain.ServiceManifest{
		svc("a", "b"),
		svc("b", "c"),
		svc("c", "a"),
	})

	p, err := Build(manifest)
	if err == nil {
		t.Fatalf("expected cycle error, got plan with %d steps", len(p.Steps))
	}
	if got := domain.ReasonOf(err); got != domain.ReasonDependencyCycle {
		t.Fatalf("expected dependency_cycle reason, got %s", got)
	}
	if p != nil {
		t.Fatalf("expected no plan on cycle")
	}
}

func TestBuildDetectsMissingDependency(t *testing.T) {
	manifest := manifestWith([]domain.ServiceManifest{
		svc("api", "db"),
	})

	if _, err := Build(manifest); domain.ReasonOf(err) != domain.ReasonDependencyMissing {
		t.Fatalf("expected dependency_missing, got %v", err)
	}
}

func TestBuildRejectsUnknownGateway(t *testing.T) {
	manifest := manifestWith([]domain.ServiceManifest{svc("api")})
	manifest.GatewayContext = "edge"

	if _, err := Build(manifest); domain.ReasonOf(err) != domain.ReasonGatewayNotFound {
		t.Fatalf("expected gateway_not_found, got %v", err)
	}
}

func TestBuildRejectsDependencyOnGateway(t *testing.T) {
	manifest := manifestWith([]domain.ServiceManifest{
		svc("gateway"),
		svc("api", "gateway"),
	})
	manifest.GatewayContext = "gateway"

	if _, err := Build(manifest); domain.ReasonOf(err) != domain.ReasonValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestBuildRejectsInternalServiceWithPorts(t *testing.T) {
	service := svc("cache")
	service.Internal = true
	service.Ports = []domain.PortMapping{{HostPort: "6379", ContainerPort: "6379"}}

	if _, err := Build(manifestWith([]domain.ServiceManifest{service})); domain.ReasonOf(err) != domain.ReasonValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestBuildRejectsInvalidImageReference(t *testing.T) {
	service := domain.ServiceManifest{ContextName: "api", Image: "registry/UPPER CASE"}

	if _, err := Build(manifestWith([]domain.ServiceManifest{service})); domain.ReasonOf(err) != domain.ReasonValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestResolveNetworksPrefixesManagedNames(t *testing.T) {
	manifest := manifestWith([]domain.ServiceManifest{svc("api")})
	manifest.Networks = map[string]domain.NetworkManifest{
		"backend": {},
		"proxy":   {External: true, Name: "edge-proxy"},
	}

	resolved := ResolveNetworks(manifest)

	if got := resolved["backend"].ResolvedName; got != "shop_backend" {
		t.Fatalf("managed network not prefixed: %s", got)
	}
	if resolved["backend"].External {
		t.Fatalf("managed network flagged external")
	}
	if got := resolved["proxy"].ResolvedName; got != "edge-proxy" {
		t.Fatalf("external network renamed: %s", got)
	}
	if !resolved["proxy"].External {
		t.Fatalf("external network lost its flag")
	}
	if _, ok := resolved[DefaultNetwork]; !ok {
		t.Fatalf("default network missing")
	}
}

func TestResolveNetworksIsIdempotent(t *testing.T) {
	manifest := manifestWith([]domain.ServiceManifest{svc("api")})
	manifest.Networks = map[string]domain.NetworkManifest{
		"backend": {},
		"shared":  {External: true},
	}

	first := ResolveNetworks(manifest)
	second := ResolveNetworks(manifest)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("resolution not idempotent: %v vs %v", first, second)
	}
	if got := first["shared"].ResolvedName; got != "shared" {
		t.Fatalf("external network without explicit name should pass through: %s", got)
	}
}

func TestBuildMergesGlobalEnv(t *testing.T) {
	service := svc("api")
	service.Env = map[string]string{"LOG_LEVEL": "debug"}
	manifest := manifestWith([]domain.ServiceManifest{service})
	manifest.GlobalEnv = map[string]string{"LOG_LEVEL": "info", "TZ": "UTC"}

	p, err := Build(manifest)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	env := p.Steps[0].Env
	if env["LOG_LEVEL"] != "debug" {
		t.Fatalf("service env should override global: %s", env["LOG_LEVEL"])
	}
	if env["TZ"] != "UTC" {
		t.Fatalf("global env not merged: %v", env)
	}
}

func TestBuildContainerAndNetworkNaming(t *testing.T) {
	manifest := manifestWith([]domain.ServiceManifest{svc("api")})
	manifest.StackName = "My Shop"

	p, err := Build(manifest)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if got := p.Steps[0].ContainerName; got != "my-shop-api" {
		t.Fatalf("unexpected container name %s", got)
	}
	if got := p.Steps[0].Networks; len(got) != 1 || got[0] != "my-shop_default" {
		t.Fatalf("unexpected step networks %v", got)
	}
}
