package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hivemetrics/swarmbench/internal/registry"
)

func newModelsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "Print the model roster",
		Long:  "Lists the models the swarm fans out over, as configured in the roster file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModels(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "swarmbench.yaml", "path to Swarmbench config file")
	return cmd
}

func runModels(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}

	roster, err := registry.Load(cfg.Swarm.ModelsFile)
	if err != nil {
		return fmt.Errorf("load models: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(roster) == 0 {
		fmt.Fprintf(out, "No models listed in %s.\n", cfg.Swarm.ModelsFile)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPROVIDER\tCOLOR")
	for _, m := range roster {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.ID, m.Name, m.Provider, m.Color)
	}
	w.Flush()
	return nil
}
