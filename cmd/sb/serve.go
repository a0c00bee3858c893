package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hivemetrics/swarmbench/internal/api"
	"github.com/hivemetrics/swarmbench/internal/archive"
	"github.com/hivemetrics/swarmbench/internal/export"
	"github.com/hivemetrics/swarmbench/internal/judge"
	"github.com/hivemetrics/swarmbench/internal/notify"
	"github.com/hivemetrics/swarmbench/internal/openrouter"
	"github.com/hivemetrics/swarmbench/internal/planner"
	"github.com/hivemetrics/swarmbench/internal/registry"
	"github.com/hivemetrics/swarmbench/internal/runlog"
	"github.com/hivemetrics/swarmbench/internal/swarm"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Swarmbench API server",
		Long:  "Runs the HTTP API: planner sessions, swarm runs, the event stream, and judging. Shuts down gracefully on SIGINT/SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "swarmbench.yaml", "path to Swarmbench config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default: server.port from config)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}
	if port == 0 {
		port = cfg.Server.Port
	}

	roster, err := registry.Load(cfg.Swarm.ModelsFile)
	if err != nil {
		return fmt.Errorf("load models: %w", err)
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
	plannerAgent, err := planner.New(planner.Opts{
		Client:    client,
		Model:     cfg.Planner.Model,
		SkillPath: cfg.Planner.SkillPath,
	})
	if err != nil {
		return err
	}
	judgeAgent, err := judge.New(judge.Opts{Client: client, Model: cfg.Judge.Model})
	if err != nil {
		return err
	}
	notifiers, err := notify.FromConfig(cfg.Notify)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.OutOrStdout())
	defer cancel()

	if cfg.Archive.Driver != "" {
		gormDB, err := archive.Connect(cfg.Archive.Driver, cfg.Archive.DSN)
		if err != nil {
			return err
		}
		if err := archive.AutoMigrate(gormDB); err != nil {
			return err
		}
		archiver, err := archive.New(archive.Opts{DB: gormDB, Store: store, Evict: cfg.Archive.Evict})
		if err != nil {
			return err
		}
		if err := archiver.RunSweeper(ctx, cfg.Archive.Schedule); err != nil {
			return err
		}
	}

	return api.Start(ctx, api.StartOpts{
		Deps: &api.Deps{
			Store:        store,
			Swarm:        orchestrator,
			Planner:      plannerAgent,
			Judge:        judgeAgent,
			Exporter:     export.New(store, cfg.Server.ArtifactsDir),
			Notifiers:    notifiers,
			Models:       roster,
			Reps:         cfg.Swarm.Reps,
			ScenariosDir: cfg.Swarm.ScenariosDir,
			Env:          cfg.AppEnv,
		},
		Port: port,
		Out:  cmd.OutOrStdout(),
	})
}
