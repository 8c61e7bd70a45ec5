package main

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	repoURL   string
	bootstrap bool
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bluegreen",
		Short: "Zero-downtime blue-green releases on a single host",
		Long: `bluegreen performs zero-downtime releases of a containerized backend by
running the new version alongside the old one, flipping the reverse proxy's
upstream target, and then retiring the old version.`,
		SilenceUsage: true,
		// No verb means deploy.
		RunE: runDeploy,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"path to the config file (default: ./bluegreen.yaml)")
	rootCmd.PersistentFlags().StringVar(&repoURL, "repo", "",
		"build the image from a git repository instead of the working tree")
	rootCmd.PersistentFlags().BoolVar(&bootstrap, "bootstrap", false,
		"first deploy on an empty host: start blue, leave the proxy alone")

	deployCmd := &cobra.Command{
		Use:   "deploy",
		Short: "Build and start the green instance, then point traffic at it",
		RunE:  runDeploy,
	}
	switchCmd := &cobra.Command{
		Use:   "switch",
		Short: "Retire blue and rename green to blue, finishing the cycle",
		RunE:  runSwitch,
	}
	completeCmd := &cobra.Command{
		Use:   "complete",
		Short: "Run deploy followed by switch",
		RunE:  runComplete,
	}
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the live blue/green instances and the proxy target",
		RunE:  runStatus,
	}

	rootCmd.AddCommand(deployCmd, switchCmd, completeCmd, statusCmd)
	return rootCmd
}
