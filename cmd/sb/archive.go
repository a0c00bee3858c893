package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hivemetrics/swarmbench/internal/archive"
	"github.com/hivemetrics/swarmbench/internal/runlog"
)

func newArchiveCmd() *cobra.Command {
	var (
		configPath string
		evict      bool
	)

	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Migrate the archive database and sweep once",
		Long:  "Creates or updates the archive tables for the configured driver, then archives any terminal runs currently in the store.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchive(cmd, configPath, evict)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "swarmbench.yaml", "path to Swarmbench config file")
	cmd.Flags().BoolVar(&evict, "evict", false, "drop archived runs from the in-memory store")
	return cmd
}

func runArchive(cmd *cobra.Command, configPath string, evict bool) error {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}
	if cfg.Archive.Driver == "" {
		return errors.New("archive is not configured (set archive.driver in swarmbench.yaml)")
	}

	gormDB, err := archive.Connect(cfg.Archive.Driver, cfg.Archive.DSN)
	if err != nil {
		return err
	}
	if err := archive.AutoMigrate(gormDB); err != nil {
		return err
	}

	store := runlog.New(cfg.Server.ArtifactsDir)
	archiver, err := archive.New(archive.Opts{DB: gormDB, Store: store, Evict: evict || cfg.Archive.Evict})
	if err != nil {
		return err
	}
	swept := archiver.Sweep()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Archive schema ready (%s, %d tables).\n", cfg.Archive.Driver, len(archive.AllModels()))
	fmt.Fprintf(out, "Swept %d terminal runs.\n", swept)
	return nil
}
