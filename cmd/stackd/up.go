package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stackd/stackd/pkg/compose"
	"github.com/stackd/stackd/pkg/config"
	"github.com/stackd/stackd/pkg/events"
	"github.com/stackd/stackd/pkg/orchestrator"
	"github.com/stackd/stackd/pkg/storage"
	"github.com/stackd/stackd/pkg/supervisor"
	"github.com/stackd/stackd/pkg/types"
	"github.com/stackd/stackd/pkg/volume"
)

var (
	upDetach bool
	upDryRun bool
)

var upCmd = &cobra.Command{
	Use:   "up <topology-file>",
	Short: "Bring a topology up",
	Long: `Parse the topology file, resolve dependency order, and bring every
service to running: volumes are provisioned, addresses injected into
dependents, readiness gates honored, and one-time init scripts executed.

By default stackd stays attached and tears the topology down on
interrupt; use --detach to leave services running.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runUp(cfg, args[0])
	},
}

func init() {
	upCmd.Flags().BoolVarP(&upDetach, "detach", "d", false, "Leave services running and exit")
	upCmd.Flags().BoolVar(&upDryRun, "dry-run", false, "Validate and walk the lifecycle without starting processes")
}

func runUp(cfg *config.Config, file string) error {
	source, err := filepath.Abs(file)
	if err != nil {
		source = file
	}

	topo, err := compose.ParseFile(file)
	if err != nil {
		return err
	}

	run, store, broker, err := buildRun(cfg, topo, source)
	if err != nil {
		return err
	}
	defer store.Close()
	defer broker.Stop()

	serveMetrics(cfg)

	sub := broker.Subscribe()
	go printProgress(sub)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Bringing up topology %s (run %s)\n", topo.Name, run.ID)
	fmt.Printf("  Start order: %v\n", run.Order())
	if err := run.Up(ctx); err != nil {
		return err
	}
	fmt.Println("✓ All services running")

	if upDryRun || upDetach {
		return nil
	}

	// Stay attached until interrupted, then tear down.
	<-ctx.Done()
	fmt.Println("\nInterrupt received, stopping services...")
	if err := run.Down(context.Background()); err != nil {
		return err
	}
	fmt.Println("✓ All services stopped")
	return nil
}

// buildRun wires the orchestrator's collaborators from config.
func buildRun(cfg *config.Config, topo *types.Topology, source string) (*orchestrator.Run, *storage.BoltStore, *events.Broker, error) {
	driver, err := volume.NewLocalDriver(cfg.VolumesDir)
	if err != nil {
		return nil, nil, nil, err
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, nil, nil, err
	}

	broker := events.NewBroker()
	broker.Start()

	var sup supervisor.Supervisor
	if upDryRun {
		sup = supervisor.NewNopSupervisor()
	} else {
		sup = supervisor.NewExecSupervisor(cfg.Orchestra.StopTimeout)
	}

	deps := orchestrator.Deps{
		Supervisor: sup,
		Volumes:    volume.NewManager(driver, cfg.Volumes.Retries),
		Store:      store,
		Broker:     broker,
	}
	opts := orchestrator.Options{
		Source:        source,
		ReadyTimeout:  cfg.Orchestra.ReadyTimeout,
		StopTimeout:   cfg.Orchestra.StopTimeout,
		ProbeInterval: cfg.Orchestra.ProbeInterval,
		DryRun:        upDryRun,
	}

	run, err := orchestrator.New(topo, deps, opts)
	if err != nil {
		store.Close()
		broker.Stop()
		return nil, nil, nil, err
	}
	return run, store, broker, nil
}

func printProgress(sub events.Subscriber) {
	for event := range sub {
		switch event.Type {
		case events.EventServiceState:
			fmt.Printf("  service %-12s %s\n", event.Service, event.State)
		case events.EventVolumeCreated:
			fmt.Printf("  volume  %-12s created\n", event.Volume)
		case events.EventVolumeReused:
			fmt.Printf("  volume  %-12s reused\n", event.Volume)
		case events.EventVolumeRemoved:
			fmt.Printf("  volume  %-12s removed\n", event.Volume)
		case events.EventScriptStarted:
			fmt.Printf("  init    %-12s running %s\n", event.Volume, event.Script)
		case events.EventScriptFailed:
			fmt.Printf("  init    %-12s FAILED  %s\n", event.Volume, event.Script)
		}
	}
}
