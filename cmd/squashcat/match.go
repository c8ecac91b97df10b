package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/squashcat/squashcat/ingest"
)

func init() {
	rootCmd.AddCommand(matchCmd)
}

var matchCmd = &cobra.Command{
	Use:   "match <experiment-id> <storage-box-id>",
	Short: "Reconcile one experiment against one archive storage box",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		expID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("experiment id %q: %w", args[0], err)
		}
		boxID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("storage box id %q: %w", args[1], err)
		}

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

		ctx := context.Background()
		store := ingest.NewStore(db)
		exp, err := store.GetExperiment(ctx, expID)
		if err != nil {
			return err
		}
		box, err := store.GetStorageBox(ctx, boxID)
		if err != nil {
			return err
		}

		registry := ingest.NewRegistry(cfg)
		mounter := ingest.NewMounter(cfg)
		orchestrator := ingest.NewOrchestrator(cfg, store, registry, mounter)
		return orchestrator.MatchExperiment(ctx, exp, box)
	},
}
