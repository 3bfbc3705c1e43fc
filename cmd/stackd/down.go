package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stackd/stackd/pkg/compose"
	"github.com/stackd/stackd/pkg/events"
	"github.com/stackd/stackd/pkg/orchestrator"
	"github.com/stackd/stackd/pkg/storage"
	"github.com/stackd/stackd/pkg/supervisor"
	"github.com/stackd/stackd/pkg/volume"
)

var downRemoveVolumes bool

var downCmd = &cobra.Command{
	Use:   "down [topology-file]",
	Short: "Tear a topology down",
	Long: `Stop every service of the most recent run in reverse dependency
order. Without a topology file argument the file recorded in the journal
is used. Volumes survive teardown unless --volumes is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		latest, err := store.LatestRun()
		if err != nil {
			return fmt.Errorf("no run to tear down: %w", err)
		}

		file := latest.File
		if len(args) == 1 {
			file = args[0]
		}
		topo, err := compose.ParseFile(file)
		if err != nil {
			return err
		}

		driver, err := volume.NewLocalDriver(cfg.VolumesDir)
		if err != nil {
			return err
		}
		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		deps := orchestrator.Deps{
			Supervisor: supervisor.NewExecSupervisor(cfg.Orchestra.StopTimeout),
			Volumes:    volume.NewManager(driver, cfg.Volumes.Retries),
			Store:      store,
			Broker:     broker,
		}
		run, err := orchestrator.New(topo, deps, orchestrator.Options{
			Source:      file,
			StopTimeout: cfg.Orchestra.StopTimeout,
		})
		if err != nil {
			return err
		}

		records, err := store.ListServiceStates(latest.ID)
		if err != nil {
			return err
		}
		if err := run.Restore(latest.ID, records); err != nil {
			return err
		}

		sub := broker.Subscribe()
		go printProgress(sub)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Tearing down run %s (topology %s)\n", latest.ID, topo.Name)
		if err := run.Down(ctx); err != nil {
			return err
		}
		fmt.Println("✓ All services stopped")

		if downRemoveVolumes {
			if err := run.RemoveVolumes(ctx); err != nil {
				return err
			}
			fmt.Println("✓ Volumes removed")
		}
		return nil
	},
}

func init() {
	downCmd.Flags().BoolVar(&downRemoveVolumes, "volumes", false, "Also destroy the topology's volumes and their data")
}
