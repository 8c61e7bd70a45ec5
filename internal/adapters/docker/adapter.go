package docker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"

	"github.com/akshar-raaj/bluegreen/internal/core/domain"
	"github.com/akshar-raaj/bluegreen/internal/core/ports"
)

// Adapter implements ports.ContainerService using the Docker SDK
type Adapter struct {
	cli *client.Client
}

// NewAdapter creates a new Docker adapter instance
func NewAdapter() (*Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Adapter{cli: cli}, nil
}

// Inspect resolves the instance published under name. The host port is taken
// from the first published mapping; 0 means the instance is not publishing a
// port, which the caller must treat as unresolved, never as a default.
func (a *Adapter) Inspect(ctx context.Context, name string) (*domain.Instance, error) {
	insp, err := a.cli.ContainerInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, name)
		}
		return nil, fmt.Errorf("failed to inspect container %s: %w", name, err)
	}

	inst := &domain.Instance{
		Name: strings.TrimPrefix(insp.Name, "/"),
	}
	if insp.Config != nil {
		inst.Image = insp.Config.Image
	}
	if insp.NetworkSettings != nil {
		inst.Port = firstHostPort(insp.NetworkSettings.Ports)
	}
	return inst, nil
}

func firstHostPort(portMap nat.PortMap) int {
	for _, bindings := range portMap {
		for _, b := range bindings {
			if p, err := strconv.Atoi(b.HostPort); err == nil && p > 0 {
				return p
			}
		}
	}
	return 0
}

// Start creates and starts a detached container bound to opts.HostPort, with
// the working tree mounted read/write at the application root.
func (a *Adapter) Start(ctx context.Context, opts ports.StartOptions) (string, error) {
	containerPort := nat.Port(fmt.Sprintf("%d/tcp", opts.ContainerPort))

	cfg := &container.Config{
		Image:        opts.Image,
		ExposedPorts: nat.PortSet{containerPort: struct{}{}},
	}
	if opts.HealthCmd != "" {
		cfg.Healthcheck = &container.HealthConfig{
			Test:     []string{"CMD-SHELL", opts.HealthCmd},
			Interval: 5 * time.Second,
			Timeout:  3 * time.Second,
			Retries:  3,
		}
	}

	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			containerPort: []nat.PortBinding{
				{HostIP: "0.0.0.0", HostPort: strconv.Itoa(opts.HostPort)},
			},
		},
	}
	if opts.MountSource != "" {
		hostCfg.Binds = []string{opts.MountSource + ":" + opts.MountTarget}
	}

	resp, err := a.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, opts.Name)
	if err != nil {
		if errdefs.IsConflict(err) {
			return "", fmt.Errorf("%w: name %s", domain.ErrStartConflict, opts.Name)
		}
		return "", fmt.Errorf("failed to create container %s: %w", opts.Name, err)
	}

	if err := a.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		// A bound host port only shows up here. The half-created container is
		// removed so a fixed re-run does not hit a name conflict.
		_ = a.cli.ContainerRemove(ctx, resp.ID, types.ContainerRemoveOptions{})
		return "", fmt.Errorf("%w: port %d: %v", domain.ErrStartConflict, opts.HostPort, err)
	}

	return resp.ID, nil
}

// Stop sends the graceful termination signal and waits for the container to
// exit.
func (a *Adapter) Stop(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := a.cli.ContainerStop(ctx, name, container.StopOptions{}); err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, name)
		}
		return fmt.Errorf("failed to stop container %s: %w", name, err)
	}
	return nil
}

// Remove deletes the stopped container's runtime state.
func (a *Adapter) Remove(ctx context.Context, name string) error {
	if err := a.cli.ContainerRemove(ctx, name, types.ContainerRemoveOptions{}); err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, name)
		}
		return fmt.Errorf("failed to remove container %s: %w", name, err)
	}
	return nil
}

// Rename moves a container to a new name.
func (a *Adapter) Rename(ctx context.Context, oldName, newName string) error {
	if err := a.cli.ContainerRename(ctx, oldName, newName); err != nil {
		return fmt.Errorf("failed to rename container %s to %s: %w", oldName, newName, err)
	}
	return nil
}
