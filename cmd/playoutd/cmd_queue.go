/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/grimnir_playout/internal/queue"
)

var queueFailed bool

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <descriptor>...",
	Short: "Append descriptor paths to the queue",
	Long: `Append one or more media descriptor paths to the tail of the queue file.

The append holds the same file lock as the poller, so it is safe to run while
playoutd serve is consuming the queue.

Examples:
  playoutd enqueue /media/clips/intro.xml /media/clips/news.xml
`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEnqueue,
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending queue entries",
	Args:  cobra.NoArgs,
	RunE:  runQueueList,
}

var requeueCmd = &cobra.Command{
	Use:   "requeue",
	Short: "Move dead-lettered entries back onto the queue",
	Args:  cobra.NoArgs,
	RunE:  runRequeue,
}

func init() {
	queueListCmd.Flags().BoolVar(&queueFailed, "failed", false, "List the dead-letter file instead")
	queueCmd.AddCommand(queueListCmd)
	rootCmd.AddCommand(enqueueCmd, queueCmd, requeueCmd)
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	q := queue.New(cfg.QueueFile, logger)
	for i, path := range args {
		if err := q.Append(cmd.Context(), path); err != nil {
			return fmt.Errorf("enqueue %q (%d of %d accepted): %w", path, i, len(args), err)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "enqueued %d item(s) to %s\n", len(args), cfg.QueueFile)
	return nil
}

func runQueueList(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	path := cfg.QueueFile
	if queueFailed {
		path = cfg.DeadLetterFile
	}
	entries, err := queue.New(path, logger).List(cmd.Context())
	if err != nil {
		return fmt.Errorf("list %s: %w", path, err)
	}

	out := cmd.OutOrStdout()
	for i, entry := range entries {
		fmt.Fprintf(out, "%4d  %s\n", i+1, entry.Path)
	}
	fmt.Fprintf(out, "%d pending in %s\n", len(entries), path)
	return nil
}

func runRequeue(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	moved, err := queue.Requeue(cmd.Context(), queue.New(cfg.DeadLetterFile, logger), queue.New(cfg.QueueFile, logger))
	if err != nil {
		return fmt.Errorf("requeue (%d moved): %w", moved, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "moved %d item(s) from %s to %s\n", moved, cfg.DeadLetterFile, cfg.QueueFile)
	return nil
}
