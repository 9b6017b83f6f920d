package docker

import (
	"fmt"
	"io"

	"github.com/distribution/reference"
	"github.com/docker/cli/cli/config"
	"github.com/docker/cli/cli/config/credentials"
	"github.com/docker/docker/api/types/registry"
)

// RegistryCredentials resolves the auth header for image pulls. Explicit
// credentials win; otherwise the locally discoverable docker credential store
// is consulted. Absence of credentials is not an error for public images.
type RegistryCredentials struct {
	Server   string
	Username string
	Password string
}

// ResolveAuth returns the encoded registry auth for an image reference, or
// empty when no credentials apply.
func (rc RegistryCredentials) ResolveAuth(ref string) (string, error) {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return "", fmt.Errorf("parse image reference %s: %w", ref, err)
	}
	host := reference.Domain(named)

	if rc.Username != "" && (rc.Server == "" || rc.Server == host) {
		return encodeAuth(registry.AuthConfig{
			Username:      rc.Username,
			Password:      rc.Password,
			ServerAddress: host,
		})
	}

	cfg := config.LoadDefaultConfigFile(io.Discard)
	if cfg == nil {
		return "", nil
	}
	if !cfg.ContainsAuth() {
		cfg.CredentialsStore = credentials.DetectDefaultStore(cfg.CredentialsStore)
	}
	stored, err := cfg.GetAuthConfig(host)
	if err != nil || stored.Username == "" {
		return "", nil
	}
	return encodeAuth(registry.AuthConfig{
		Username:      stored.Username,
		Password:      stored.Password,
		Auth:          stored.Auth,
		IdentityToken: stored.IdentityToken,
		RegistryToken: stored.RegistryToken,
		ServerAddress: stored.ServerAddress,
	})
}

func encodeAuth(auth registry.AuthConfig) (string, error) {
	encoded, err := registry.EncodeAuthConfig(auth)
	if err != nil {
		return "", fmt.Errorf("encode registry auth: %w", err)
	}
	return encoded, nil
}
