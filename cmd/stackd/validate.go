package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackd/stackd/pkg/compose"
	"github.com/stackd/stackd/pkg/env"
	"github.com/stackd/stackd/pkg/graph"
	"github.com/stackd/stackd/pkg/signals"
)

var validateCmd = &cobra.Command{
	Use:   "validate <topology-file>",
	Short: "Validate a topology file",
	Long: `Parse the topology and run every static check: references,
dependency cycles, and environment address references. Exits non-zero
with the same codes as up would.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}

		topo, err := compose.ParseFile(args[0])
		if err != nil {
			return err
		}
		if _, err := graph.Resolve(topo); err != nil {
			return err
		}
		injector := env.NewInjector(topo, signals.NewBoard(topo.ServiceNames()))
		if err := injector.Validate(); err != nil {
			return err
		}

		fmt.Printf("✓ topology %s is valid (%d services, %d volumes)\n",
			topo.Name, len(topo.Services), len(topo.Volumes))
		return nil
	},
}
