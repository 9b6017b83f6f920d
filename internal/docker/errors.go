package docker

import (
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/docker/docker/client"
)

// ErrNotFound indicates the requested Docker resource was not found.
var ErrNotFound = errors.New("docker: resource not found")

// IsTransient reports whether an error from the runtime socket is worth a
// bounded retry. Application-level failures (bad image, invalid config,
// conflicts) are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if client.IsErrNotFound(err) {
		return false
	}
	if client.IsErrConnectionFailed(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return false
}
