// Package deploy implements the blue-green release cycle: start the new
// version next to the old one, flip the proxy upstream, then retire the old
// slot and rename the new one into its identity.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/akshar-raaj/bluegreen/internal/config"
	"github.com/akshar-raaj/bluegreen/internal/core/domain"
	"github.com/akshar-raaj/bluegreen/internal/core/ports"
	"github.com/akshar-raaj/bluegreen/internal/logger"
)

// Options tunes a single deploy invocation.
type Options struct {
	// RepoURL builds the image from a shallow clone instead of the working
	// tree. The working-tree mount is skipped so the cloned code is what runs.
	RepoURL string

	// Bootstrap starts the very first blue instance on a host that has none.
	// The proxy is left untouched: it already points at the blue port.
	Bootstrap bool
}

// Orchestrator drives one deployment cycle. It holds no state between
// invocations; everything is re-derived from the host on each call.
type Orchestrator struct {
	cfg        *config.Config
	containers ports.ContainerService
	builder    ports.BuilderService
	proxy      ports.ProxyService
	log        logger.Logger

	// probe does a single liveness request. Swappable in tests.
	probe func(url string) bool
}

func New(cfg *config.Config, containers ports.ContainerService, builder ports.BuilderService, proxy ports.ProxyService, log logger.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		containers: containers,
		builder:    builder,
		proxy:      proxy,
		log:        log,
		probe:      httpGetOK,
	}
}

// State reconstructs the live deployment picture from the container runtime
// and the proxy config.
func (o *Orchestrator) State(ctx context.Context) (*domain.DeploymentState, error) {
	state := &domain.DeploymentState{}

	for _, color := range []domain.Color{domain.Blue, domain.Green} {
		inst, err := o.containers.Inspect(ctx, o.cfg.InstanceName(color))
		if err != nil {
			if errors.Is(err, domain.ErrInstanceNotFound) {
				continue
			}
			return nil, err
		}
		inst.Color = color
		if color == domain.Blue {
			state.Blue = inst
		} else {
			state.Green = inst
		}
	}

	if port, err := o.proxy.CurrentTarget(); err == nil {
		state.ProxyPort = port
	}
	return state, nil
}

// negotiate derives the rotation from blue's published port. Exactly two
// ports rotate; anything else, including an unknown port, is fatal rather
// than a silent default.
func (o *Orchestrator) negotiate(state *domain.DeploymentState) (fromPort, toPort int, err error) {
	if state.Blue == nil {
		return 0, 0, fmt.Errorf("%w: no instance named %s", domain.ErrPortUnresolved, o.cfg.InstanceName(domain.Blue))
	}
	switch state.Blue.Port {
	case o.cfg.BluePort:
		return o.cfg.BluePort, o.cfg.GreenPort, nil
	case o.cfg.GreenPort:
		return o.cfg.GreenPort, o.cfg.BluePort, nil
	case 0:
		return 0, 0, fmt.Errorf("%w: %s is not publishing a host port", domain.ErrPortUnresolved, state.Blue.Name)
	default:
		return 0, 0, fmt.Errorf("%w: %s is bound to %d, outside the %d/%d rotation",
			domain.ErrPortUnresolved, state.Blue.Name, state.Blue.Port, o.cfg.BluePort, o.cfg.GreenPort)
	}
}

// Deploy runs negotiation, build, green start and the proxy flip. On return
// both instances are running with traffic pointed at green; blue is never
// mutated.
func (o *Orchestrator) Deploy(ctx context.Context, opts Options) error {
	state, err := o.State(ctx)
	if err != nil {
		return err
	}

	if opts.Bootstrap {
		return o.bootstrap(ctx, state, opts)
	}

	if state.Green != nil {
		return fmt.Errorf("%w: %s is still running, run switch to finish the previous cycle",
			domain.ErrStartConflict, state.Green.Name)
	}

	fromPort, toPort, err := o.negotiate(state)
	if err != nil {
		return err
	}
	o.log.Info("negotiated ports", logger.Int("blue", fromPort), logger.Int("green", toPort))

	image, err := o.build(ctx, opts)
	if err != nil {
		return err
	}

	greenName := o.cfg.InstanceName(domain.Green)
	if _, err := o.containers.Start(ctx, o.startOptions(greenName, image, toPort, opts)); err != nil {
		return err
	}
	o.log.Info("green instance started", logger.String("name", greenName), logger.Int("port", toPort))

	if err := o.awaitHealthy(ctx, toPort); err != nil {
		// Tear the unhealthy green down so the host returns to its
		// pre-deploy shape. Best effort.
		if stopErr := o.containers.Stop(ctx, greenName); stopErr != nil {
			o.log.Warn("failed to stop unhealthy green", logger.Error(stopErr))
		}
		if rmErr := o.containers.Remove(ctx, greenName); rmErr != nil {
			o.log.Warn("failed to remove unhealthy green", logger.Error(rmErr))
		}
		return err
	}

	if err := o.reconfigureProxy(ctx, fromPort, toPort); err != nil {
		return err
	}

	o.log.Info("traffic now routed to green", logger.Int("port", toPort))
	return nil
}

// Promote retires blue and renames green into the blue identity, resetting
// the cycle. Stop and remove failures are tolerated: a half-finished
// promotion with two blues, or none, is the worst outcome, so the rename is
// always attempted.
func (o *Orchestrator) Promote(ctx context.Context) error {
	state, err := o.State(ctx)
	if err != nil {
		return err
	}
	if state.Green == nil {
		return fmt.Errorf("%w: no green instance to promote", domain.ErrPromotion)
	}

	blueName := o.cfg.InstanceName(domain.Blue)
	if state.Blue == nil {
		o.log.Info("no blue instance to retire")
	} else {
		if err := o.containers.Stop(ctx, blueName); err != nil {
			o.log.Warn("failed to stop blue, continuing", logger.Error(err))
		}
		if err := o.containers.Remove(ctx, blueName); err != nil {
			o.log.Warn("failed to remove blue, continuing", logger.Error(err))
		}
	}

	if err := o.containers.Rename(ctx, state.Green.Name, blueName); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPromotion, err)
	}

	o.log.Info("green promoted to blue", logger.String("name", blueName), logger.Int("port", state.Green.Port))
	return nil
}

// Complete runs Deploy followed by Promote. Atomic from the operator's
// perspective only; a failure leaves the host at the failing step.
func (o *Orchestrator) Complete(ctx context.Context, opts Options) error {
	if err := o.Deploy(ctx, opts); err != nil {
		return err
	}
	return o.Promote(ctx)
}

// bootstrap starts the first blue instance on a host with none.
func (o *Orchestrator) bootstrap(ctx context.Context, state *domain.DeploymentState, opts Options) error {
	if state.Blue != nil {
		return fmt.Errorf("%w: %s already exists, bootstrap is only for an empty host",
			domain.ErrStartConflict, state.Blue.Name)
	}

	image, err := o.build(ctx, opts)
	if err != nil {
		return err
	}

	blueName := o.cfg.InstanceName(domain.Blue)
	if _, err := o.containers.Start(ctx, o.startOptions(blueName, image, o.cfg.BluePort, opts)); err != nil {
		return err
	}
	o.log.Info("bootstrapped blue instance", logger.String("name", blueName), logger.Int("port", o.cfg.BluePort))

	return o.awaitHealthy(ctx, o.cfg.BluePort)
}

func (o *Orchestrator) build(ctx context.Context, opts Options) (string, error) {
	if opts.RepoURL != "" {
		o.log.Info("building image from repository", logger.String("repo", opts.RepoURL), logger.String("image", o.cfg.Image))
		return o.builder.BuildFromRepo(ctx, opts.RepoURL, o.cfg.Image)
	}
	o.log.Info("building image from working tree", logger.String("dir", o.cfg.WorkDir), logger.String("image", o.cfg.Image))
	return o.builder.BuildImage(ctx, o.cfg.WorkDir, o.cfg.Image)
}

func (o *Orchestrator) startOptions(name, image string, hostPort int, opts Options) ports.StartOptions {
	so := ports.StartOptions{
		Name:          name,
		Image:         image,
		HostPort:      hostPort,
		ContainerPort: o.cfg.AppPort,
		MountTarget:   o.cfg.MountTarget,
	}
	if opts.RepoURL == "" {
		if abs, err := filepath.Abs(o.cfg.WorkDir); err == nil {
			so.MountSource = abs
		}
	}
	if o.cfg.HealthPath != "" {
		so.HealthCmd = fmt.Sprintf("curl -f http://localhost:%d%s || exit 1", o.cfg.AppPort, o.cfg.HealthPath)
	}
	return so
}

// reconfigureProxy runs the backup, rewrite, reload sequence. A rejected
// reload restores the backup before the error is returned.
func (o *Orchestrator) reconfigureProxy(ctx context.Context, fromPort, toPort int) error {
	if err := o.proxy.Backup(); err != nil {
		return err
	}
	if err := o.proxy.Rewrite(fromPort, toPort); err != nil {
		return err
	}
	if err := o.proxy.Reload(ctx); err != nil {
		o.log.Warn("reload rejected the rewritten config, restoring backup")
		if restoreErr := o.proxy.Restore(); restoreErr != nil {
			o.log.Error("restore failed, proxy config needs manual recovery", logger.Error(restoreErr))
		}
		return err
	}
	o.log.Info("proxy upstream rewritten", logger.Int("from", fromPort), logger.Int("to", toPort))
	return nil
}

// awaitHealthy polls the application's liveness endpoint on the given host
// port until it answers 200 or the configured timeout elapses. A zero
// timeout or empty path disables the probe.
func (o *Orchestrator) awaitHealthy(ctx context.Context, port int) error {
	timeout := o.cfg.HealthTimeout.Std()
	if timeout <= 0 || o.cfg.HealthPath == "" {
		return nil
	}

	url := fmt.Sprintf("http://localhost:%d%s", port, o.cfg.HealthPath)
	o.log.Info("waiting for instance to become healthy", logger.String("url", url))

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("instance on port %d failed health check within %s", port, timeout)
		case <-ticker.C:
			if o.probe(url) {
				o.log.Info("instance healthy", logger.Int("port", port))
				return nil
			}
		}
	}
}

func httpGetOK(url string) bool {
	resp, err := http.Get(url)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
