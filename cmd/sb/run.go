package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hivemetrics/swarmbench/internal/benchspec"
	"github.com/hivemetrics/swarmbench/internal/config"
	"github.com/hivemetrics/swarmbench/internal/export"
	"github.com/hivemetrics/swarmbench/internal/notify"
	"github.com/hivemetrics/swarmbench/internal/openrouter"
	"github.com/hivemetrics/swarmbench/internal/registry"
	"github.com/hivemetrics/swarmbench/internal/runlog"
	"github.com/hivemetrics/swarmbench/internal/swarm"
)

func newRunCmd() *cobra.Command {
	var (
		configPath string
		specPath   string
		modelIDs   []string
		reps       int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a swarm from the terminal",
		Long:  "Executes models x reps benchmark tasks and prints a result table. Without --spec the built-in email_priority scenario is used.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, configPath, specPath, modelIDs, reps)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "swarmbench.yaml", "path to Swarmbench config file")
	cmd.Flags().StringVar(&specPath, "spec", "", "path to a benchmark spec JSON file")
	cmd.Flags().StringSliceVar(&modelIDs, "models", nil, "model ids to run (default: full roster)")
	cmd.Flags().IntVar(&reps, "reps", 0, "repetitions per model (default: swarm.reps from config)")
	return cmd
}

func runRun(cmd *cobra.Command, configPath, specPath string, modelIDs []string, reps int) error {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}

	var spec *benchspec.Spec
	if specPath != "" {
		spec, err = loadSpecFile(specPath)
		if err != nil {
			return err
		}
	}

	ctx, cancel := signalContext(cmd.OutOrStdout())
	defer cancel()

	return launchRun(ctx, cmd, cfg, spec, modelIDs, reps)
}

// launchRun executes one swarm synchronously: run, sample, export, notify,
// then print the table. A nil spec selects the default scenario.
func launchRun(ctx context.Context, cmd *cobra.Command, cfg *config.Config, spec *benchspec.Spec, modelIDs []string, reps int) error {
	out := cmd.OutOrStdout()

	roster, err := registry.Load(cfg.Swarm.ModelsFile)
	if err != nil {
		return fmt.Errorf("load models: %w", err)
	}
	models := pickModels(roster, modelIDs)
	if len(models) == 0 {
		return fmt.Errorf("no models to run (roster %s is empty)", cfg.Swarm.ModelsFile)
	}
	if reps <= 0 {
		reps = cfg.Swarm.Reps
	}

	client, err := openrouter.New(openrouter.Opts{
		APIKey:          cfg.OpenRouter.APIKey,
		BaseURL:         cfg.OpenRouter.BaseURL,
		Model:           cfg.OpenRouter.Model,
		SiteURL:         cfg.OpenRouter.SiteURL,
		SiteName:        cfg.OpenRouter.SiteName,
		ReasoningEffort: cfg.OpenRouter.ReasoningEffort,
	})
	if err != nil {
		return err
	}

	store := runlog.New(cfg.Server.ArtifactsDir)
	orchestrator, err := swarm.New(swarm.Opts{
		Store:          store,
		Streamer:       client,
		TraceProject:   cfg.Trace.Project,
		ScenariosDir:   cfg.Swarm.ScenariosDir,
		MaxConcurrency: cfg.Swarm.MaxConcurrency,
	})
	if err != nil {
		return err
	}

	sess := store.CreateSession()
	run, err := store.CreateRun(sess.ID)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Swarming %d models x %d reps = %d tasks (run %s)\n\n",
		len(models), reps, len(models)*reps, run.ID)

	results, err := orchestrator.Run(ctx, run.ID, models, reps, spec)
	if err != nil {
		store.SetRunFailed(run.ID)
		return err
	}

	if _, err := store.WriteSSESample(run.ID); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: write sse sample: %v\n", err)
	}
	exportDir, err := export.New(store, cfg.Server.ArtifactsDir).WriteResults(run.ID)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: export results: %v\n", err)
	}

	notifiers, err := notify.FromConfig(cfg.Notify)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	} else if len(notifiers) > 0 {
		finished, err := store.Run(run.ID)
		if err == nil {
			byTask, _ := store.Results(run.ID)
			notify.Broadcast(ctx, notifiers, notify.RunFinished(finished, byTask))
		}
	}

	printResults(out, results, exportDir)
	return nil
}

// loadSpecFile reads and normalizes a spec JSON file.
func loadSpecFile(path string) (*benchspec.Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spec: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse spec %s: %w", path, err)
	}
	return benchspec.Normalize(raw)
}

// pickModels resolves requested ids against the roster; ids the roster does
// not know get derived specs. Empty means the whole roster.
func pickModels(roster []registry.ModelSpec, ids []string) []registry.ModelSpec {
	if len(ids) == 0 {
		return roster
	}
	byID := make(map[string]registry.ModelSpec, len(roster))
	for _, m := range roster {
		byID[m.ID] = m
	}
	models := make([]registry.ModelSpec, 0, len(ids))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			models = append(models, m)
			continue
		}
		models = append(models, registry.Default(id)...)
	}
	return models
}

func printResults(out io.Writer, results []runlog.Result, exportDir string) {
	sorted := append([]runlog.Result(nil), results...)
	sort.Slice(sorted, func(a, b int) bool {
		if sorted[a].ModelID != sorted[b].ModelID {
			return sorted[a].ModelID < sorted[b].ModelID
		}
		return sorted[a].RepIndex < sorted[b].RepIndex
	})

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tREP\tSTATUS\tLATENCY\tCHUNKS")
	for _, res := range sorted {
		status := res.Status
		if res.Status == runlog.ResultError {
			status = fmt.Sprintf("error (%s)", truncate(res.Error, 40))
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%dms\t%d\n", res.ModelID, res.RepIndex, status, res.LatencyMS, res.Chunks)
	}
	w.Flush()

	if exportDir != "" {
		fmt.Fprintf(out, "\nResults exported to %s\n", exportDir)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
