package ports

import (
	"context"

	"github.com/akshar-raaj/bluegreen/internal/core/domain"
)

// StartOptions describes the instance to launch. The working tree is mounted
// read/write into the container's application root so code can be edited
// without rebuilding.
type StartOptions struct {
	Name          string
	Image         string
	HostPort      int
	ContainerPort int
	MountSource   string // host working tree, empty disables the mount
	MountTarget   string // application root inside the container
	HealthCmd     string // docker-level health probe command, empty disables it
}

// ContainerService defines the container runtime operations the orchestrator
// needs. This interface allows us to switch between Docker, Podman, or
// another runtime without changing the deployment logic.
type ContainerService interface {
	// Inspect returns the instance published under name, or
	// domain.ErrInstanceNotFound. Port is 0 when the instance exists but is
	// not publishing a host port yet.
	Inspect(ctx context.Context, name string) (*domain.Instance, error)

	// Start launches a new detached instance and returns its runtime ID.
	// Returns domain.ErrStartConflict when the name or port is taken.
	Start(ctx context.Context, opts StartOptions) (string, error)

	// Stop sends a graceful termination signal and waits for exit.
	Stop(ctx context.Context, name string) error

	Remove(ctx context.Context, name string) error
	Rename(ctx context.Context, oldName, newName string) error
}
