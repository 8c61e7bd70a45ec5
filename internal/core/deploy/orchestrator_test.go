package deploy

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akshar-raaj/bluegreen/internal/config"
	"github.com/akshar-raaj/bluegreen/internal/core/domain"
	"github.com/akshar-raaj/bluegreen/internal/core/ports"
	"github.com/akshar-raaj/bluegreen/internal/logger"
)

// fakes

type fakeContainers struct {
	instances map[string]*domain.Instance
	started   []ports.StartOptions
	stopped   []string
	removed   []string
	renamed   [][2]string

	stopErr   error
	renameErr error
}

func newFakeContainers(instances ...*domain.Instance) *fakeContainers {
	f := &fakeContainers{instances: map[string]*domain.Instance{}}
	for _, inst := range instances {
		f.instances[inst.Name] = inst
	}
	return f
}

func (f *fakeContainers) Inspect(_ context.Context, name string) (*domain.Instance, error) {
	inst, ok := f.instances[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, name)
	}
	cp := *inst
	return &cp, nil
}

func (f *fakeContainers) Start(_ context.Context, opts ports.StartOptions) (string, error) {
	if _, ok := f.instances[opts.Name]; ok {
		return "", fmt.Errorf("%w: name %s", domain.ErrStartConflict, opts.Name)
	}
	for _, inst := range f.instances {
		if inst.Port == opts.HostPort {
			return "", fmt.Errorf("%w: port %d", domain.ErrStartConflict, opts.HostPort)
		}
	}
	f.started = append(f.started, opts)
	f.instances[opts.Name] = &domain.Instance{Name: opts.Name, Port: opts.HostPort, Image: opts.Image}
	return "id-" + opts.Name, nil
}

func (f *fakeContainers) Stop(_ context.Context, name string) error {
	f.stopped = append(f.stopped, name)
	if f.stopErr != nil {
		return f.stopErr
	}
	if _, ok := f.instances[name]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, name)
	}
	return nil
}

func (f *fakeContainers) Remove(_ context.Context, name string) error {
	f.removed = append(f.removed, name)
	if _, ok := f.instances[name]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, name)
	}
	delete(f.instances, name)
	return nil
}

func (f *fakeContainers) Rename(_ context.Context, oldName, newName string) error {
	if f.renameErr != nil {
		return f.renameErr
	}
	inst, ok := f.instances[oldName]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, oldName)
	}
	if _, ok := f.instances[newName]; ok {
		return fmt.Errorf("name %s already in use", newName)
	}
	delete(f.instances, oldName)
	inst.Name = newName
	f.instances[newName] = inst
	f.renamed = append(f.renamed, [2]string{oldName, newName})
	return nil
}

type fakeBuilder struct {
	builds     []string // context dirs
	repoBuilds []string // repo urls
	err        error
}

func (f *fakeBuilder) BuildImage(_ context.Context, contextDir, imageName string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.builds = append(f.builds, contextDir)
	return imageName, nil
}

func (f *fakeBuilder) BuildFromRepo(_ context.Context, repoURL, imageName string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.repoBuilds = append(f.repoBuilds, repoURL)
	return imageName, nil
}

type fakeProxy struct {
	target       int // current upstream port, 0 = no config
	backupTarget int
	backups      int
	rewrites     [][2]int
	reloads      int
	restores     int

	reloadErr error
}

func (f *fakeProxy) Backup() error {
	f.backups++
	f.backupTarget = f.target
	return nil
}

func (f *fakeProxy) Rewrite(fromPort, toPort int) error {
	if f.target != fromPort {
		return fmt.Errorf("%w: target %d not found", domain.ErrProxyConfig, fromPort)
	}
	f.target = toPort
	f.rewrites = append(f.rewrites, [2]int{fromPort, toPort})
	return nil
}

func (f *fakeProxy) Reload(context.Context) error {
	f.reloads++
	return f.reloadErr
}

func (f *fakeProxy) Restore() error {
	f.restores++
	f.target = f.backupTarget
	return nil
}

func (f *fakeProxy) CurrentTarget() (int, error) {
	if f.target == 0 {
		return 0, errors.New("no proxy_pass target")
	}
	return f.target, nil
}

func testConfig() *config.Config {
	return &config.Config{
		AppName:     "app",
		Image:       "app:latest",
		BluePort:    8000,
		GreenPort:   8001,
		AppPort:     8000,
		WorkDir:     ".",
		MountTarget: "/app",
		HealthPath:  "/health",
		// probe disabled unless a test opts in
		HealthTimeout: 0,
	}
}

func newTestOrchestrator(cfg *config.Config, c *fakeContainers, b *fakeBuilder, p *fakeProxy) *Orchestrator {
	return New(cfg, c, b, p, logger.Nop())
}

func blueOn(port int) *domain.Instance {
	return &domain.Instance{Color: domain.Blue, Name: "app-blue", Port: port, Image: "app:latest"}
}

// tests

func TestNegotiate(t *testing.T) {
	tests := []struct {
		name     string
		blue     *domain.Instance
		wantFrom int
		wantTo   int
		wantErr  bool
	}{
		{name: "blue on 8000", blue: blueOn(8000), wantFrom: 8000, wantTo: 8001},
		{name: "blue on 8001", blue: blueOn(8001), wantFrom: 8001, wantTo: 8000},
		{name: "blue not publishing", blue: blueOn(0), wantErr: true},
		{name: "blue outside rotation", blue: blueOn(9000), wantErr: true},
		{name: "blue absent", blue: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestOrchestrator(testConfig(), newFakeContainers(), &fakeBuilder{}, &fakeProxy{})
			from, to, err := o.negotiate(&domain.DeploymentState{Blue: tt.blue})
			if tt.wantErr {
				require.ErrorIs(t, err, domain.ErrPortUnresolved)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFrom, from)
			assert.Equal(t, tt.wantTo, to)
		})
	}
}

func TestDeploy_FlipsTrafficToGreen(t *testing.T) {
	containers := newFakeContainers(blueOn(8000))
	builds := &fakeBuilder{}
	proxy := &fakeProxy{target: 8000}
	o := newTestOrchestrator(testConfig(), containers, builds, proxy)

	require.NoError(t, o.Deploy(context.Background(), Options{}))

	require.Len(t, containers.started, 1)
	green := containers.started[0]
	assert.Equal(t, "app-green", green.Name)
	assert.Equal(t, 8001, green.HostPort)
	assert.Equal(t, 8000, green.ContainerPort)
	assert.Equal(t, "/app", green.MountTarget)
	assert.NotEmpty(t, green.MountSource)
	assert.Contains(t, green.HealthCmd, "/health")

	assert.Equal(t, 1, proxy.backups)
	assert.Equal(t, [][2]int{{8000, 8001}}, proxy.rewrites)
	assert.Equal(t, 1, proxy.reloads)
	assert.Equal(t, 8001, proxy.target)

	// Both instances keep running until switch.
	assert.Len(t, containers.instances, 2)
}

func TestDeploy_NeverMutatesBlue(t *testing.T) {
	containers := newFakeContainers(blueOn(8000))
	o := newTestOrchestrator(testConfig(), containers, &fakeBuilder{}, &fakeProxy{target: 8000})

	require.NoError(t, o.Deploy(context.Background(), Options{}))

	assert.Empty(t, containers.stopped)
	assert.Empty(t, containers.removed)
	assert.Empty(t, containers.renamed)
	assert.Equal(t, 8000, containers.instances["app-blue"].Port)
}

func TestDeploy_BlueOn8001_GreenGets8000(t *testing.T) {
	containers := newFakeContainers(blueOn(8001))
	proxy := &fakeProxy{target: 8001}
	o := newTestOrchestrator(testConfig(), containers, &fakeBuilder{}, proxy)

	require.NoError(t, o.Deploy(context.Background(), Options{}))

	require.Len(t, containers.started, 1)
	assert.Equal(t, 8000, containers.started[0].HostPort)
	assert.Equal(t, [][2]int{{8001, 8000}}, proxy.rewrites)
}

func TestDeploy_BlueMissingIsFatalBeforeBuild(t *testing.T) {
	containers := newFakeContainers()
	builds := &fakeBuilder{}
	proxy := &fakeProxy{}
	o := newTestOrchestrator(testConfig(), containers, builds, proxy)

	err := o.Deploy(context.Background(), Options{})

	require.ErrorIs(t, err, domain.ErrPortUnresolved)
	assert.Empty(t, builds.builds, "no image build should be attempted")
	assert.Empty(t, containers.started, "no instance should be started")
	assert.Zero(t, proxy.backups)
}

func TestDeploy_LeftoverGreenIsFatal(t *testing.T) {
	containers := newFakeContainers(
		blueOn(8000),
		&domain.Instance{Color: domain.Green, Name: "app-green", Port: 8001},
	)
	builds := &fakeBuilder{}
	o := newTestOrchestrator(testConfig(), containers, builds, &fakeProxy{target: 8000})

	err := o.Deploy(context.Background(), Options{})

	require.ErrorIs(t, err, domain.ErrStartConflict)
	assert.Empty(t, builds.builds)
}

func TestDeploy_BuildFailureTouchesNothing(t *testing.T) {
	containers := newFakeContainers(blueOn(8000))
	builds := &fakeBuilder{err: fmt.Errorf("%w: step 3/7", domain.ErrBuildFailed)}
	proxy := &fakeProxy{target: 8000}
	o := newTestOrchestrator(testConfig(), containers, builds, proxy)

	err := o.Deploy(context.Background(), Options{})

	require.ErrorIs(t, err, domain.ErrBuildFailed)
	assert.Empty(t, containers.started)
	assert.Zero(t, proxy.backups)
}

func TestDeploy_RepoBuildSkipsWorkTreeMount(t *testing.T) {
	containers := newFakeContainers(blueOn(8000))
	builds := &fakeBuilder{}
	o := newTestOrchestrator(testConfig(), containers, builds, &fakeProxy{target: 8000})

	require.NoError(t, o.Deploy(context.Background(), Options{RepoURL: "https://example.com/app.git"}))

	assert.Equal(t, []string{"https://example.com/app.git"}, builds.repoBuilds)
	assert.Empty(t, builds.builds)
	require.Len(t, containers.started, 1)
	assert.Empty(t, containers.started[0].MountSource)
}

func TestDeploy_ReloadFailureRestoresBackup(t *testing.T) {
	containers := newFakeContainers(blueOn(8000))
	proxy := &fakeProxy{target: 8000, reloadErr: fmt.Errorf("%w: unexpected token", domain.ErrProxyReload)}
	o := newTestOrchestrator(testConfig(), containers, &fakeBuilder{}, proxy)

	err := o.Deploy(context.Background(), Options{})

	require.ErrorIs(t, err, domain.ErrProxyReload)
	assert.Equal(t, 1, proxy.restores)
	assert.Equal(t, 8000, proxy.target, "upstream must be back on blue after restore")
}

func TestDeploy_UnhealthyGreenIsTornDown(t *testing.T) {
	cfg := testConfig()
	cfg.HealthTimeout = config.Duration(50 * time.Millisecond)
	containers := newFakeContainers(blueOn(8000))
	proxy := &fakeProxy{target: 8000}
	o := newTestOrchestrator(cfg, containers, &fakeBuilder{}, proxy)
	o.probe = func(string) bool { return false }

	err := o.Deploy(context.Background(), Options{})

	require.Error(t, err)
	assert.Contains(t, containers.stopped, "app-green")
	assert.Contains(t, containers.removed, "app-green")
	assert.Zero(t, proxy.backups, "proxy must not be touched for an unhealthy green")
	assert.Len(t, containers.instances, 1)
}

func TestPromote_SingleBlueOnGreensPort(t *testing.T) {
	containers := newFakeContainers(
		blueOn(8000),
		&domain.Instance{Color: domain.Green, Name: "app-green", Port: 8001},
	)
	o := newTestOrchestrator(testConfig(), containers, &fakeBuilder{}, &fakeProxy{target: 8001})

	require.NoError(t, o.Promote(context.Background()))

	require.Len(t, containers.instances, 1)
	blue, ok := containers.instances["app-blue"]
	require.True(t, ok, "exactly one instance named blue must remain")
	assert.Equal(t, 8001, blue.Port, "blue must hold the port that was green's")
	assert.Equal(t, []string{"app-blue"}, containers.stopped)
	assert.Equal(t, [][2]string{{"app-green", "app-blue"}}, containers.renamed)
}

func TestPromote_NoGreen(t *testing.T) {
	o := newTestOrchestrator(testConfig(), newFakeContainers(blueOn(8000)), &fakeBuilder{}, &fakeProxy{target: 8000})

	err := o.Promote(context.Background())

	require.ErrorIs(t, err, domain.ErrPromotion)
}

func TestPromote_StopFailureIsTolerated(t *testing.T) {
	containers := newFakeContainers(
		blueOn(8000),
		&domain.Instance{Color: domain.Green, Name: "app-green", Port: 8001},
	)
	containers.stopErr = errors.New("daemon hiccup")
	o := newTestOrchestrator(testConfig(), containers, &fakeBuilder{}, &fakeProxy{target: 8001})

	require.NoError(t, o.Promote(context.Background()))

	assert.Equal(t, [][2]string{{"app-green", "app-blue"}}, containers.renamed)
}

func TestPromote_RenameFailureIsFatal(t *testing.T) {
	containers := newFakeContainers(
		&domain.Instance{Color: domain.Green, Name: "app-green", Port: 8001},
	)
	containers.renameErr = errors.New("name still held")
	o := newTestOrchestrator(testConfig(), containers, &fakeBuilder{}, &fakeProxy{target: 8001})

	err := o.Promote(context.Background())

	require.ErrorIs(t, err, domain.ErrPromotion)
}

func TestComplete_FullCycle(t *testing.T) {
	containers := newFakeContainers(blueOn(8000))
	proxy := &fakeProxy{target: 8000}
	o := newTestOrchestrator(testConfig(), containers, &fakeBuilder{}, proxy)

	require.NoError(t, o.Complete(context.Background(), Options{}))

	require.Len(t, containers.instances, 1)
	blue := containers.instances["app-blue"]
	require.NotNil(t, blue)
	assert.Equal(t, 8001, blue.Port)
	assert.Equal(t, 8001, proxy.target)
}

func TestBootstrap_StartsBlueWithoutProxyChange(t *testing.T) {
	containers := newFakeContainers()
	proxy := &fakeProxy{}
	o := newTestOrchestrator(testConfig(), containers, &fakeBuilder{}, proxy)

	require.NoError(t, o.Deploy(context.Background(), Options{Bootstrap: true}))

	require.Len(t, containers.started, 1)
	assert.Equal(t, "app-blue", containers.started[0].Name)
	assert.Equal(t, 8000, containers.started[0].HostPort)
	assert.Zero(t, proxy.backups)
	assert.Zero(t, proxy.reloads)
}

func TestBootstrap_RejectsExistingBlue(t *testing.T) {
	o := newTestOrchestrator(testConfig(), newFakeContainers(blueOn(8000)), &fakeBuilder{}, &fakeProxy{target: 8000})

	err := o.Deploy(context.Background(), Options{Bootstrap: true})

	require.ErrorIs(t, err, domain.ErrStartConflict)
}

func TestState_ReconstructedFromHost(t *testing.T) {
	containers := newFakeContainers(
		blueOn(8000),
		&domain.Instance{Name: "app-green", Port: 8001},
	)
	o := newTestOrchestrator(testConfig(), containers, &fakeBuilder{}, &fakeProxy{target: 8000})

	state, err := o.State(context.Background())

	require.NoError(t, err)
	require.NotNil(t, state.Blue)
	require.NotNil(t, state.Green)
	assert.Equal(t, domain.Blue, state.Blue.Color)
	assert.Equal(t, domain.Green, state.Green.Color)
	assert.Equal(t, 8000, state.ProxyPort)
}
