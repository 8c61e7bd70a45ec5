package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/akshar-raaj/bluegreen/internal/adapters/builder"
	"github.com/akshar-raaj/bluegreen/internal/adapters/docker"
	"github.com/akshar-raaj/bluegreen/internal/adapters/nginx"
	"github.com/akshar-raaj/bluegreen/internal/config"
	"github.com/akshar-raaj/bluegreen/internal/core/deploy"
	"github.com/akshar-raaj/bluegreen/internal/core/domain"
	"github.com/akshar-raaj/bluegreen/internal/lock"
	"github.com/akshar-raaj/bluegreen/internal/logger"
)

func setup() (*config.Config, logger.Logger, *deploy.Orchestrator, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, nil, err
	}

	log := logger.New(cfg.LogLevel, cfg.PrettyLog)

	containers, err := docker.NewAdapter()
	if err != nil {
		return nil, nil, nil, err
	}
	images, err := builder.NewAdapter()
	if err != nil {
		return nil, nil, nil, err
	}
	proxy := nginx.New(cfg.ProxyConf, cfg.ProxyBackup, cfg.ReloadCmd)

	return cfg, log, deploy.New(cfg, containers, images, proxy, log), nil
}

// withLock serializes mutating verbs: the rotation ports and the proxy
// config are host-wide singletons.
func withLock(cfg *config.Config, fn func() error) error {
	lk := lock.New(cfg.LockDir, cfg.AppName+"-deploy")
	if err := lk.Acquire(); err != nil {
		return err
	}
	defer lk.Release()
	return fn()
}

func runDeploy(cmd *cobra.Command, _ []string) error {
	cfg, log, orch, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	return withLock(cfg, func() error {
		return orch.Deploy(cmd.Context(), deploy.Options{RepoURL: repoURL, Bootstrap: bootstrap})
	})
}

func runSwitch(cmd *cobra.Command, _ []string) error {
	cfg, log, orch, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	return withLock(cfg, func() error {
		return orch.Promote(cmd.Context())
	})
}

func runComplete(cmd *cobra.Command, _ []string) error {
	cfg, log, orch, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	return withLock(cfg, func() error {
		return orch.Complete(cmd.Context(), deploy.Options{RepoURL: repoURL, Bootstrap: bootstrap})
	})
}

func runStatus(cmd *cobra.Command, _ []string) error {
	_, log, orch, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	state, err := orch.State(cmd.Context())
	if err != nil {
		return err
	}

	printInstance(domain.Blue, state.Blue)
	printInstance(domain.Green, state.Green)
	if state.ProxyPort != 0 {
		fmt.Printf("proxy:  -> localhost:%d\n", state.ProxyPort)
	} else {
		fmt.Println("proxy:  target unknown")
	}
	return nil
}

func printInstance(color domain.Color, inst *domain.Instance) {
	if inst == nil {
		fmt.Printf("%-6s absent\n", color.String()+":")
		return
	}
	fmt.Printf("%-6s %s  port=%d  image=%s\n", color.String()+":", inst.Name, inst.Port, inst.Image)
}
