package main

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/sarchlab/tapbridge/config"
	"github.com/sarchlab/tapbridge/scenario"
	"github.com/spf13/cobra"
)

var dumpScenario string

var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "List the built-in scenarios.",
	Long: "`scenarios` lists the built-in scenarios. `scenarios --dump NAME` " +
		"prints one of them as YAML, as a starting point for a scenario file.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if dumpScenario != "" {
			s, err := scenario.Get(dumpScenario)
			if err != nil {
				return err
			}

			return s.WriteYAML(cmd.OutOrStdout())
		}

		for _, name := range scenario.Names() {
			s, _ := scenario.Get(name)
			fmt.Fprintf(cmd.OutOrStdout(), "%-10s %d nodes, %d links, %d taps\n",
				name, len(s.Nodes), len(s.Links), len(s.Taps))
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(scenariosCmd)
	scenariosCmd.Flags().StringVar(&dumpScenario, "dump", "",
		"Print the named scenario as YAML.")
}

// loadScenario returns the built-in scenario called name, or the scenario in
// the file at path when path is set. The environment overrides are applied.
func loadScenario(name, path string) (*config.Scenario, error) {
	var (
		s   *config.Scenario
		err error
	)

	switch {
	case path != "" && name != "":
		return nil, errors.New("give either a scenario name or --config")
	case path != "":
		s, err = config.Load(path)
	case name != "":
		s, err = scenario.Get(name)
	default:
		return nil, errors.Errorf("no scenario given, built-in ones are: %s",
			strings.Join(scenario.Names(), ", "))
	}

	if err != nil {
		return nil, err
	}

	env.Apply(s)

	return s, nil
}
