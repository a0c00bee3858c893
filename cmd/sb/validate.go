package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <spec.json>",
		Short: "Validate a benchmark spec file",
		Long:  "Normalizes a spec JSON file and prints the canonical form, or fails with the validation error.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args[0])
		},
	}
}

func runValidate(cmd *cobra.Command, path string) error {
	spec, err := loadSpecFile(path)
	if err != nil {
		return err
	}

	canonical, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode spec: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s is valid.\n\n", path)
	fmt.Fprintln(out, string(canonical))
	return nil
}
