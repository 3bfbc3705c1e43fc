package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackd/stackd/pkg/compose"
	"github.com/stackd/stackd/pkg/graph"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <topology-file>",
	Short: "Print the resolved start order",
	Long: `Parse the topology and print the order services would start in,
one per line, dependencies first. The order is deterministic: ties are
broken by declaration order.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}

		topo, err := compose.ParseFile(args[0])
		if err != nil {
			return err
		}
		order, err := graph.Resolve(topo)
		if err != nil {
			return err
		}
		for _, name := range order {
			fmt.Println(name)
		}
		return nil
	},
}
