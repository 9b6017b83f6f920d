package plan

import (
	"strings"

	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/domain"
)

// DefaultNetwork is the managed network every service joins when it declares
// no networks of its own.
const DefaultNetwork = "default"

// ResolveNetworks maps declared network names to their on-host definitions.
// Managed networks are prefixed with the stack identity so stacks sharing a
// host stay isolated; external networks pass through verbatim. Resolution is
// deterministic: the same manifest always yields the same resolved names.
func ResolveNetworks(manifest domain.StackManifest) map[string]domain.NetworkDefinition {
	identity := StackIdentity(manifest)
	resolved := make(map[string]domain.NetworkDefinition, len(manifest.Networks)+1)

	for name, decl := range manifest.Networks {
		if decl.External {
			external := decl.Name
			if external == "" {
				external = name
			}
			resolved[name] = domain.NetworkDefinition{External: true, ResolvedName: external}
			continue
		}
		resolved[name] = domain.NetworkDefinition{ResolvedName: identity + "_" + name}
	}

	if _, ok := resolved[DefaultNetwork]; !ok {
		resolved[DefaultNetwork] = domain.NetworkDefinition{ResolvedName: identity + "_" + DefaultNetwork}
	}
	return resolved
}

// StackIdentity derives the identifier used to namespace container and
// network names. Prefers the stack name, falling back to the stack ID.
func StackIdentity(manifest domain.StackManifest) string {
	source := manifest.StackName
	if strings.TrimSpace(source) == "" {
		source = manifest.StackID
	}
	return sanitizeIdentity(source)
}

func sanitizeIdentity(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
