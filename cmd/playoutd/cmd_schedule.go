/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/friendsincode/grimnir_playout/internal/db"
	"github.com/friendsincode/grimnir_playout/internal/logging"
	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/store"
)

var scheduleRecentLimit int

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Inspect the schedule table",
}

var scheduleLastCmd = &cobra.Command{
	Use:   "last",
	Short: "Show the most recent schedule row",
	Args:  cobra.NoArgs,
	RunE:  runScheduleLast,
}

var scheduleRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show the newest schedule rows",
	Args:  cobra.NoArgs,
	RunE:  runScheduleRecent,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the schedule table",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	scheduleRecentCmd.Flags().IntVarP(&scheduleRecentLimit, "limit", "n", 10, "Number of rows to show")
	scheduleCmd.AddCommand(scheduleLastCmd, scheduleRecentCmd)
	rootCmd.AddCommand(scheduleCmd, migrateCmd)
}

// withStore connects to the configured database for the duration of fn.
func withStore(ctx context.Context, fn func(*store.Store) error) error {
	if err := loadConfig(); err != nil {
		return err
	}
	database, err := db.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close(database)

	return fn(store.New(database, store.Options{
		Table:         cfg.DBTable,
		Timeout:       cfg.StoreTimeout,
		RetryAttempts: cfg.StoreRetryAttempts,
		RetryBackoff:  cfg.StoreRetryBackoff,
		Location:      cfg.Location,
	}, logging.Component(logger, "store")))
}

func runScheduleLast(cmd *cobra.Command, args []string) error {
	return withStore(cmd.Context(), func(st *store.Store) error {
		rec, err := st.LastRecord(cmd.Context())
		if err != nil {
			return err
		}
		if rec == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "schedule is empty")
			return nil
		}
		printRecords(cmd.OutOrStdout(), []models.ScheduleRecord{*rec})
		return nil
	})
}

func runScheduleRecent(cmd *cobra.Command, args []string) error {
	return withStore(cmd.Context(), func(st *store.Store) error {
		recs, err := st.Recent(cmd.Context(), scheduleRecentLimit)
		if err != nil {
			return err
		}
		printRecords(cmd.OutOrStdout(), recs)
		return nil
	})
}

func printRecords(w io.Writer, recs []models.ScheduleRecord) {
	fmt.Fprintf(w, "%-8s %-12s %-12s %-10s %-4s %s\n", "ID", "DATE", "TIME", "DURATION", "CH", "ITEM")
	for _, rec := range recs {
		fmt.Fprintf(w, "%-8d %-12s %-12s %-10s %-4d %s\n",
			rec.ID, rec.StartDate, rec.StartTime, rec.Duration, rec.Channel, rec.ItemPath)
	}
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	database, err := db.Connect(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer db.Close(database)

	if err := db.Migrate(database, cfg.DBTable); err != nil {
		return fmt.Errorf("migrate schedule table: %w", err)
	}
	logger.Info().Str("table", cfg.DBTable).Str("backend", string(cfg.DBBackend)).Msg("schedule table ready")
	return nil
}
