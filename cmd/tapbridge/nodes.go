package main

import (
	"fmt"

	"github.com/sarchlab/tapbridge/config"
	"github.com/sarchlab/tapbridge/mobility"
	"github.com/sarchlab/tapbridge/scenario"
	"github.com/sarchlab/tapbridge/sim"
	"github.com/sarchlab/tapbridge/topology"
	"github.com/spf13/cobra"
)

var scenarioPath string

var nodesCmd = &cobra.Command{
	Use:   "nodes [scenario]",
	Short: "Print the nodes, interfaces and routes of a scenario.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadScenario(firstArg(args), scenarioPath)
		if err != nil {
			return err
		}

		topo, err := buildOffline(s)
		if err != nil {
			return err
		}

		return topo.Describe(cmd.OutOrStdout())
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate [scenario]",
	Short: "Check that a scenario is valid and that its topology builds.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadScenario(firstArg(args), scenarioPath)
		if err != nil {
			return err
		}

		topo, err := buildOffline(s)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(),
			"%s: %d nodes, %d links, %d interfaces, %d taps\n",
			s.Name, len(topo.Nodes()), len(topo.Links()),
			len(topo.Interfaces()), len(topo.Bridges))

		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{nodesCmd, validateCmd} {
		c.Flags().StringVarP(&scenarioPath, "config", "c", "",
			"Scenario file, YAML or TOML.")
		rootCmd.AddCommand(c)
	}
}

// buildOffline builds the topology of a scenario without opening any tap
// device or starting the engine.
func buildOffline(s *config.Scenario) (*topology.Topology, error) {
	var policy mobility.AttachmentPolicy
	if len(s.Cells) > 0 {
		p, err := scenario.Policy(s.Attachment.Policy)
		if err != nil {
			return nil, err
		}
		policy = p
	}

	return topology.Build(s, sim.NewSerialEngine(), topology.Options{
		Policy: policy,
	})
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}

	return args[0]
}
