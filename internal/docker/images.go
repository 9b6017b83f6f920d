package docker

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/image"
)

// PullImage pulls an image, optionally authenticating with an encoded
// registry auth header. The pull stream is drained so the operation completes
// before returning.
func (c *Client) PullImage(ctx context.Context, ref, registryAuth string) error {
	if strings.TrimSpace(ref) == "" {
		return fmt.Errorf("image reference cannot be empty")
	}
	reader, err := c.inner.ImagePull(ctx, ref, image.PullOptions{RegistryAuth: registryAuth})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("drain pull stream for %s: %w", ref, err)
	}
	return nil
}
