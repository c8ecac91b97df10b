package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/squashcat/squashcat/ingest"
)

func init() {
	rootCmd.AddCommand(daemonCmd)
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background scan-and-parse daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ingest.InitLogger(cfg.LogDir)

		db, err := ingest.OpenDB(cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		store := ingest.NewStore(db)
		registry := ingest.NewRegistry(cfg)
		mounter := ingest.NewMounter(cfg)
		orchestrator := ingest.NewOrchestrator(cfg, store, registry, mounter)
		runner := ingest.NewRunner(cfg, store, registry, orchestrator)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ingest.NewDaemon(cfg, runner).Run(ctx)
		return nil
	},
}
