package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hivemetrics/swarmbench/internal/archive"
	"github.com/hivemetrics/swarmbench/internal/config"
	"github.com/hivemetrics/swarmbench/internal/registry"
	"github.com/hivemetrics/swarmbench/internal/swarm"
)

func newDoctorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check prerequisites and configuration",
		Long:  "Runs diagnostic checks: config, OpenRouter credential, model roster, scenarios, artifacts directory, and the archive database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "swarmbench.yaml", "path to Swarmbench config file")
	return cmd
}

type checkResult struct {
	name   string
	status string // "PASS", "FAIL", "WARN"
	detail string
}

func runDoctor(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Swarmbench Doctor")
	fmt.Fprintln(out, "=================")

	var results []checkResult

	cfg, cfgResult := checkConfig(cmd, configPath)
	results = append(results, cfgResult)
	results = append(results, checkCredential(cfg))
	results = append(results, checkModelsFile(cfg))
	results = append(results, checkScenarios(cfg))
	results = append(results, checkArtifactsDir(cfg))
	results = append(results, checkArchiveDB(cfg))

	passed, failed, warned := 0, 0, 0
	for _, r := range results {
		printCheckResult(out, r)
		switch r.status {
		case "PASS":
			passed++
		case "FAIL":
			failed++
		case "WARN":
			warned++
		}
	}

	fmt.Fprintf(out, "\n%d passed, %d failed, %d warning\n", passed, failed, warned)

	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

func printCheckResult(out io.Writer, r checkResult) {
	fmt.Fprintf(out, "[%s] %s: %s\n", r.status, r.name, r.detail)
}

func checkConfig(cmd *cobra.Command, path string) (*config.Config, checkResult) {
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), checkResult{"Config file", "PASS", fmt.Sprintf("%s not found, using defaults", path)}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Default(), checkResult{"Config file", "FAIL", fmt.Sprintf("%s: %v", path, err)}
	}
	return cfg, checkResult{"Config file", "PASS", path}
}

func checkCredential(cfg *config.Config) checkResult {
	if cfg.OpenRouter.APIKey == "" {
		return checkResult{"OpenRouter key", "WARN", "OPENROUTER_API_KEY not set (runs will fail to start)"}
	}
	return checkResult{"OpenRouter key", "PASS", "credential configured"}
}

func checkModelsFile(cfg *config.Config) checkResult {
	roster, err := registry.Load(cfg.Swarm.ModelsFile)
	if err != nil {
		return checkResult{"Model roster", "FAIL", fmt.Sprintf("%s: %v", cfg.Swarm.ModelsFile, err)}
	}
	if len(roster) == 0 {
		return checkResult{"Model roster", "WARN", fmt.Sprintf("%s lists no models", cfg.Swarm.ModelsFile)}
	}
	return checkResult{"Model roster", "PASS", fmt.Sprintf("%d models in %s", len(roster), cfg.Swarm.ModelsFile)}
}

func checkScenarios(cfg *config.Config) checkResult {
	spec, err := swarm.DefaultScenario(cfg.Swarm.ScenariosDir)
	if err != nil {
		return checkResult{"Scenarios", "FAIL", err.Error()}
	}
	return checkResult{"Scenarios", "PASS",
		fmt.Sprintf("%s loads (%d judge questions)", swarm.DefaultScenarioName, len(spec.Questions))}
}

func checkArtifactsDir(cfg *config.Config) checkResult {
	dir := cfg.Server.ArtifactsDir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return checkResult{"Artifacts dir", "FAIL", fmt.Sprintf("%s: %v", dir, err)}
	}
	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return checkResult{"Artifacts dir", "FAIL", fmt.Sprintf("%s not writable: %v", dir, err)}
	}
	probe.Close()
	os.Remove(probe.Name())
	return checkResult{"Artifacts dir", "PASS", fmt.Sprintf("%s writable", dir)}
}

func checkArchiveDB(cfg *config.Config) checkResult {
	if cfg.Archive.Driver == "" {
		return checkResult{"Archive DB", "PASS", "disabled (runs stay in memory)"}
	}
	gormDB, err := archive.Connect(cfg.Archive.Driver, cfg.Archive.DSN)
	if err != nil {
		return checkResult{"Archive DB", "FAIL", err.Error()}
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return checkResult{"Archive DB", "FAIL", fmt.Sprintf("get sql.DB: %v", err)}
	}
	if err := sqlDB.Ping(); err != nil {
		return checkResult{"Archive DB", "FAIL", fmt.Sprintf("%s ping failed: %v", cfg.Archive.Driver, err)}
	}
	return checkResult{"Archive DB", "PASS", fmt.Sprintf("%s reachable", cfg.Archive.Driver)}
}
