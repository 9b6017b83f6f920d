// Package plan turns a resolved stack manifest into an ordered deployment
// plan. Building is a pure function: no I/O, all structural validation
// happens before any side effect elsewhere in the engine.
package plan

import (
	"sort"
	"strings"

	"github.com/distribution/reference"

	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/domain"
)

// Build produces a DeploymentPlan from a resolved manifest, or a typed
// structural error. Step order is a deterministic topological sort of the
// dependsOn graph (Kahn's algorithm, ties broken alphabetically); the gateway
// service, when declared, is forced to the last position.
func Build(manifest domain.StackManifest) (*domain.DeploymentPlan, error) {
	if len(manifest.Services) == 0 {
		return nil, domain.NewOperationError(domain.ReasonValidation, "stack %s declares no services", manifest.StackName)
	}

	byName := make(map[string]domain.ServiceManifest, len(manifest.Services))
	for _, svc := range manifest.Services {
		name := strings.TrimSpace(svc.ContextName)
		if name == "" {
			return nil, domain.NewOperationError(domain.ReasonValidation, "service with empty context name")
		}
		if _, dup := byName[name]; dup {
			return nil, domain.NewOperationError(domain.ReasonValidation, "duplicate service %s", name)
		}
		byName[name] = svc
	}

	if err := validateServices(manifest, byName); err != nil {
		return nil, err
	}

	ordered, err := topoSort(manifest, byName)
	if err != nil {
		return nil, err
	}
	ordered = forceGatewayLast(ordered, manifest.GatewayContext)

	networks := ResolveNetworks(manifest)
	identity := StackIdentity(manifest)

	steps := make([]domain.DeploymentStep, 0, len(ordered))
	for i, name := range ordered {
		svc := byName[name]
		step := domain.DeploymentStep{
			ContextName:    svc.ContextName,
			Image:          svc.Image,
			Tag:            svc.Tag,
			ContainerName:  identity + "-" + svc.ContextName,
			Internal:       svc.Internal,
			Env:            mergeEnv(manifest.GlobalEnv, svc.Env),
			Ports:          svc.Ports,
			Volumes:        svc.Volumes,
			DependsOn:      append([]string(nil), svc.DependsOn...),
			Order:          i,
			Networks:       resolveServiceNetworks(svc, networks),
			HealthEndpoint: svc.HealthEndpoint,
			IgnoreInMaint:  svc.IgnoreInMaintenance,
		}
		steps = append(steps, step)
	}

	return &domain.DeploymentPlan{
		StackVersion:  manifest.Version,
		EnvironmentID: manifest.EnvironmentID,
		StackID:       manifest.StackID,
		StackName:     manifest.StackName,
		Networks:      networks,
		Steps:         steps,
		GlobalEnv:     manifest.GlobalEnv,
	}, nil
}

func validateServices(manifest domain.StackManifest, byName map[string]domain.ServiceManifest) error {
	gateway := strings.TrimSpace(manifest.GatewayContext)
	if gateway != "" {
		if _, ok := byName[gateway]; !ok {
			return domain.NewOperationError(domain.ReasonGatewayNotFound, "gateway service %s not declared", gateway)
		}
	}

	for _, svc := range manifest.Services {
		ref := svc.Image
		if svc.Tag != "" {
			ref = svc.Image + ":" + svc.Tag
		}
		if _, err := reference.ParseNormalizedNamed(ref); err != nil {
			return domain.NewOperationError(domain.ReasonValidation, "service %s: invalid image reference %q: %v", svc.ContextName, ref, err)
		}
		if svc.Internal && len(svc.Ports) > 0 {
			return domain.NewOperationError(domain.ReasonValidation, "service %s is internal but declares published ports", svc.ContextName)
		}
		for _, dep := range svc.DependsOn {
			if _, ok := byName[dep]; !ok {
				return domain.NewOperationError(domain.ReasonDependencyMissing, "service %s depends on undeclared service %s", svc.ContextName, dep)
			}
			if gateway != "" && dep == gateway {
				return domain.NewOperationError(domain.ReasonValidation, "service %s depends on gateway %s; the gateway is always last", svc.ContextName, dep)
			}
		}
		for _, net := range svc.Networks {
			if _, ok := manifest.Networks[net]; !ok && net != DefaultNetwork {
				return domain.NewOperationError(domain.ReasonValidation, "service %s joins undeclared network %s", svc.ContextName, net)
			}
		}
	}
	return nil
}

// topoSort runs Kahn's algorithm with alphabetical tie-breaking so the same
// manifest always produces the same order.
func topoSort(manifest domain.StackManifest, byName map[string]domain.ServiceManifest) ([]string, error) {
	indegree := make(map[string]int, len(byName))
	dependents := make(map[string][]string, len(byName))
	for name, svc := range byName {
		if _, ok := indegree[name]; !ok {
			indegree[name] = 0
		}
		for _, dep := range svc.DependsOn {
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	ready := make([]string, 0, len(byName))
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	ordered := make([]string, 0, len(byName))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		ordered = append(ordered, name)

		released := make([]string, 0, len(dependents[name]))
		for _, dependent := range dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				released = append(released, dependent)
			}
		}
		if len(released) > 0 {
			ready = append(ready, released...)
			sort.Strings(ready)
		}
	}

	if len(ordered) != len(byName) {
		remaining := make([]string, 0, len(byName)-len(ordered))
		emitted := make(map[string]struct{}, len(ordered))
		for _, name := range ordered {
			emitted[name] = struct{}{}
		}
		for name := range byName {
			if _, ok := emitted[name]; !ok {
				remaining = append(remaining, name)
			}
		}
		sort.Strings(remaining)
		return nil, domain.NewOperationError(domain.ReasonDependencyCycle, "dependency cycle involving %s", strings.Join(remaining, ", "))
	}
	return ordered, nil
}

// forceGatewayLast moves the gateway service to the final position. This is a
// policy override on top of the topological result, not a dependency.
func forceGatewayLast(ordered []string, gateway string) []string {
	gateway = strings.TrimSpace(gateway)
	if gateway == "" {
		return ordered
	}
	out := make([]string, 0, len(ordered))
	for _, name := range ordered {
		if name != gateway {
			out = append(out, name)
		}
	}
	return append(out, gateway)
}

func mergeEnv(global, local map[string]string) map[string]string {
	if len(global) == 0 && len(local) == 0 {
		return nil
	}
	merged := make(map[string]string, len(global)+len(local))
	for k, v := range global {
		merged[k] = v
	}
	for k, v := range local {
		merged[k] = v
	}
	return merged
}

func resolveServiceNetworks(svc domain.ServiceManifest, networks map[string]domain.NetworkDefinition) []string {
	declared := svc.Networks
	if len(declared) == 0 {
		declared = []string{DefaultNetwork}
	}
	resolved := make([]string, 0, len(declared))
	for _, name := range declared {
		def, ok := networks[name]
		if !ok {
			// validateServices already rejected unknown names.
			resolved = append(resolved, name)
			continue
		}
		resolved = append(resolved, def.ResolvedName)
	}
	return resolved
}
