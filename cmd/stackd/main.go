package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/stackd/stackd/pkg/config"
	"github.com/stackd/stackd/pkg/graph"
	"github.com/stackd/stackd/pkg/log"
	"github.com/stackd/stackd/pkg/metrics"
	"github.com/stackd/stackd/pkg/orchestrator"
	"github.com/stackd/stackd/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Exit codes distinguish failure classes for scripting callers.
const (
	exitGeneric          = 1
	exitConfig           = 2
	exitCycle            = 3
	exitReadinessTimeout = 4
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var cfgErr *types.ConfigError
	var cycleErr *graph.CycleError
	var readyErr *orchestrator.ReadinessTimeoutError
	switch {
	case errors.As(err, &cycleErr):
		return exitCycle
	case errors.As(err, &cfgErr):
		return exitConfig
	case errors.As(err, &readyErr):
		return exitReadinessTimeout
	}
	return exitGeneric
}

var configPath string

var rootCmd = &cobra.Command{
	Use:   "stackd",
	Short: "Stackd - Minimal service stack orchestrator",
	Long: `Stackd brings a declared topology of services and volumes up on the
local machine: it resolves dependency order, injects addresses into
dependent services' environments, provisions persistent volumes, runs
one-time initialization scripts, and gates dependents on readiness.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Stackd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")

	// Add subcommands
	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(downCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(validateCmd)
}

// loadConfig loads runtime config and initializes logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON})
	return cfg, nil
}

// serveMetrics exposes /metrics when an address is configured.
func serveMetrics(cfg *config.Config) {
	if cfg.Metrics.Addr == "" {
		return
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
			log.Errorf("metrics server stopped", err)
		}
	}()
}
